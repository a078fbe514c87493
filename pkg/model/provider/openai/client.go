package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/tools"
)

// Client streams chat completions from OpenAI or any compatible endpoint.
type Client struct {
	base.Config
	client openai.Client
}

// NewClient creates a new OpenAI client from the provided configuration
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != config.ProviderOpenAI {
		return nil, errors.New("model type must be 'openai'")
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

	apiKey, err := c.APIKey(ctx, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.HTTPClient()),
	}
	if cfg.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(cfg.BaseURL))
	}
	if maxRetries := c.ModelOptions.MaxRetries(); maxRetries != nil {
		clientOptions = append(clientOptions, option.WithMaxRetries(*maxRetries))
	}
	c.client = openai.NewClient(clientOptions...)

	c.Logger().Debug("OpenAI client created", "model", cfg.Model, "base_url", cfg.BaseURL)
	return c, nil
}

// CreateStream opens a streaming chat completion. HTTP failures surface
// from the first Recv.
func (c *Client) CreateStream(ctx context.Context, req *chat.CompletionRequest, messages []chat.Message) (stream.Stream, error) {
	if len(messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	params := c.buildParams(req, messages)

	c.Logger().Debug("Creating OpenAI chat completion stream",
		"model", params.Model,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	sse := c.client.Chat.Completions.NewStreaming(ctx, params)
	return newStreamAdapter(sse), nil
}

func (c *Client) buildParams(req *chat.CompletionRequest, messages []chat.Message) openai.ChatCompletionNewParams {
	model := c.ModelConfig.Model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.SystemPrompt, messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(*req.MaxTokens)
	}
	if c.ModelConfig.Temperature != nil {
		params.Temperature = openai.Float(*c.ModelConfig.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		if req.ToolChoice != "" {
			params.ToolChoice = convertToolChoice(req.ToolChoice)
		}
	}

	return params
}

func convertTools(requestTools []tools.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		def := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(tool.Schema()),
		}
		if tool.Description != "" {
			def.Description = openai.String(tool.Description)
		}
		out[i] = openai.ChatCompletionFunctionTool(def)
	}
	return out
}

func convertToolChoice(choice string) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice {
	case "auto", "none", "required":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
	case "any":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice},
			},
		}
	}
}
