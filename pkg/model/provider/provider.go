package provider

import (
	"context"
	"fmt"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider/anthropic"
	"github.com/docker/agentloop/pkg/model/provider/bedrock"
	"github.com/docker/agentloop/pkg/model/provider/gemini"
	"github.com/docker/agentloop/pkg/model/provider/openai"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/stream"
)

// Provider opens model response streams.
type Provider interface {
	// ID returns "provider/model".
	ID() string
	// CreateStream sends the conversation and returns the raw event stream
	// of the model's reply. Tools and tool choice come from req.
	CreateStream(ctx context.Context, req *chat.CompletionRequest, messages []chat.Message) (stream.Stream, error)
}

var (
	_ Provider = (*anthropic.Client)(nil)
	_ Provider = (*openai.Client)(nil)
	_ Provider = (*gemini.Client)(nil)
	_ Provider = (*bedrock.Client)(nil)
)

// New creates the provider client named by cfg.Provider.
func New(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("model configuration is required")
	}

	mo := options.Apply(opts...)
	mo.Logger().Debug("Creating model provider", "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(ctx, cfg, env, opts...)
	case config.ProviderOpenAI:
		return openai.NewClient(ctx, cfg, env, opts...)
	case config.ProviderGemini:
		return gemini.NewClient(ctx, cfg, env, opts...)
	case config.ProviderBedrock:
		return bedrock.NewClient(ctx, cfg, env, opts...)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
