package gemini

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/tools"
)

// Client streams content from the Gemini API.
type Client struct {
	base.Config
	client *genai.Client
}

// NewClient creates a new Gemini client from the provided configuration
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != config.ProviderGemini {
		return nil, errors.New("model type must be 'google'")
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

	apiKey, err := c.APIKey(ctx, "GOOGLE_API_KEY")
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.HTTPClient(),
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	c.client = client

	c.Logger().Debug("Gemini client created", "model", cfg.Model)
	return c, nil
}

// CreateStream starts a streaming generation. The request is only sent once
// the producer goroutine starts iterating, so HTTP failures surface from
// Recv.
func (c *Client) CreateStream(ctx context.Context, req *chat.CompletionRequest, messages []chat.Message) (stream.Stream, error) {
	contents := convertMessages(messages)
	if len(contents) == 0 {
		return nil, errors.New("at least one message is required")
	}

	model := c.ModelConfig.Model
	if req.Model != "" {
		model = req.Model
	}
	genConfig := c.buildConfig(req, messages)

	c.Logger().Debug("Creating Gemini stream", "model", model, "content_count", len(contents), "tool_count", len(req.Tools))

	ctx, cancel := context.WithCancel(ctx)
	seq := c.client.Models.GenerateContentStream(ctx, model, contents, genConfig)
	return newStreamAdapter(ctx, cancel, seq, model), nil
}

func (c *Client) buildConfig(req *chat.CompletionRequest, messages []chat.Message) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{}

	if system := systemInstruction(req.SystemPrompt, messages); system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if c.ModelConfig.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*c.ModelConfig.Temperature))
	}

	// 0 disables thinking, -1 lets the model decide.
	if budget := c.ModelConfig.ThinkingBudget; budget != 0 {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(budget)),
		}
	}

	if len(req.Tools) > 0 {
		genConfig.Tools = convertTools(req.Tools)
		genConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: convertToolChoice(req.ToolChoice),
		}
	}

	return genConfig
}

func convertTools(requestTools []tools.Tool) []*genai.Tool {
	funcs := make([]*genai.FunctionDeclaration, 0, len(requestTools))
	for _, tool := range requestTools {
		funcs = append(funcs, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.Schema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcs}}
}

func convertToolChoice(choice string) *genai.FunctionCallingConfig {
	switch choice {
	case "", "auto":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	case "any", "required":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}
	case "none":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}
	default:
		return &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{choice},
		}
	}
}
