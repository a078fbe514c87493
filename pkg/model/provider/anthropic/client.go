package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/stream"
)

const (
	defaultMaxTokens  = 8192
	minThinkingBudget = 1024
)

// Client streams messages from the Anthropic Messages API.
type Client struct {
	base.Config
	client anthropic.Client
}

// NewClient creates a new Anthropic client from the provided configuration
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != config.ProviderAnthropic {
		return nil, errors.New("model type must be 'anthropic'")
	}
	if env == nil {
		return nil, errors.New("environment provider is required")
	}

	c := &Client{
		Config: base.Config{
			ModelConfig:  *cfg,
			ModelOptions: options.Apply(opts...),
			Env:          env,
		},
	}

	apiKey, err := c.APIKey(ctx, "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.HTTPClient()),
	}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}
	if maxRetries := c.ModelOptions.MaxRetries(); maxRetries != nil {
		requestOptions = append(requestOptions, option.WithMaxRetries(*maxRetries))
	}
	c.client = anthropic.NewClient(requestOptions...)

	c.Logger().Debug("Anthropic client created", "model", cfg.Model)
	return c, nil
}

// CreateStream opens a streaming Messages request. HTTP failures surface
// from the first Recv.
func (c *Client) CreateStream(ctx context.Context, req *chat.CompletionRequest, messages []chat.Message) (stream.Stream, error) {
	params, err := c.buildParams(req, messages)
	if err != nil {
		return nil, err
	}

	c.Logger().Debug("Creating Anthropic stream",
		"model", params.Model,
		"max_tokens", params.MaxTokens,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	sse := c.client.Messages.NewStreaming(ctx, params)
	return newStreamAdapter(sse, c.Logger()), nil
}

func (c *Client) buildParams(req *chat.CompletionRequest, messages []chat.Message) (anthropic.MessageNewParams, error) {
	converted := convertMessages(messages)
	if len(converted) == 0 {
		return anthropic.MessageNewParams{}, errors.New("no messages to send after conversion: all messages were filtered out")
	}

	model := c.ModelConfig.Model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokensOr(defaultMaxTokens)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    systemBlocks(req.SystemPrompt, messages),
		Messages:  converted,
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	thinkingEnabled := false
	if budget := int64(c.ModelConfig.ThinkingBudget); budget > 0 {
		switch {
		case budget >= minThinkingBudget && budget < maxTokens:
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
			thinkingEnabled = true
		case budget >= maxTokens:
			c.Logger().Warn("Anthropic thinking_budget must be less than max_tokens, ignoring", "tokens", budget, "max_tokens", maxTokens)
		default:
			c.Logger().Warn("Anthropic thinking_budget below minimum (1024), ignoring", "tokens", budget)
		}
	}

	// Extended thinking requires the default temperature.
	if c.ModelConfig.Temperature != nil {
		if thinkingEnabled {
			c.Logger().Debug("Anthropic extended thinking enabled, ignoring temperature")
		} else {
			params.Temperature = param.NewOpt(*c.ModelConfig.Temperature)
		}
	}

	return params, nil
}
