package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/stream"
)

const (
	defaultRegion      = "us-east-1"
	defaultSessionName = "agentloop-bedrock-session"
	minThinkingBudget  = 1024
)

// Client streams conversations through the Bedrock Converse API.
type Client struct {
	base.Config
	bedrockClient *bedrockruntime.Client
}

// bearerTokenTransport adds Authorization header with bearer token to requests
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// NewClient creates a new Bedrock client from the provided configuration
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...options.Opt) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != config.ProviderBedrock {
		return nil, errors.New("model type must be 'amazon-bedrock'")
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
	logger := c.Logger()

	// Bedrock API keys are bearer tokens, which the default credential
	// chain does not pick up. Without one we sign requests with SigV4.
	tokenKey := cfg.TokenKey
	if tokenKey == "" {
		tokenKey = "AWS_BEARER_TOKEN_BEDROCK"
	}
	bearerToken, _ := env.Get(ctx, tokenKey)

	awsCfg, err := buildAWSConfig(ctx, cfg, env)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	httpClient := c.HTTPClient()
	var clientOpts []func(*bedrockruntime.Options)

	if endpoint := base.ProviderOpt[string](cfg.ProviderOpts, "endpoint_url"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	if bearerToken != "" {
		logger.Debug("Bedrock using bearer token authentication")
		transport := httpClient.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.Credentials = aws.AnonymousCredentials{}
			o.HTTPClient = &http.Client{
				Timeout:   httpClient.Timeout,
				Transport: &bearerTokenTransport{token: bearerToken, base: transport},
			}
		})
	} else {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.HTTPClient = httpClient
		})
	}

	if maxRetries := c.ModelOptions.MaxRetries(); maxRetries != nil {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.RetryMaxAttempts = *maxRetries + 1
		})
	}

	c.bedrockClient = bedrockruntime.NewFromConfig(awsCfg, clientOpts...)

	logger.Debug("Bedrock client created", "model", cfg.Model, "region", awsCfg.Region)
	return c, nil
}

// buildAWSConfig resolves region, profile and an optional assumed role on
// top of the default credential chain.
func buildAWSConfig(ctx context.Context, cfg *config.ModelConfig, env environment.Provider) (aws.Config, error) {
	region := base.ProviderOpt[string](cfg.ProviderOpts, "region")
	if region == "" {
		region, _ = env.Get(ctx, "AWS_REGION")
	}
	if region == "" {
		region, _ = env.Get(ctx, "AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = defaultRegion
	}

	configOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile := base.ProviderOpt[string](cfg.ProviderOpts, "profile"); profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if roleARN := base.ProviderOpt[string](cfg.ProviderOpts, "role_arn"); roleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = defaultSessionName
			if sessionName := base.ProviderOpt[string](cfg.ProviderOpts, "role_session_name"); sessionName != "" {
				o.RoleSessionName = sessionName
			}
			if externalID := base.ProviderOpt[string](cfg.ProviderOpts, "external_id"); externalID != "" {
				o.ExternalID = aws.String(externalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return awsCfg, nil
}

// CreateStream starts a ConverseStream call.
func (c *Client) CreateStream(ctx context.Context, req *chat.CompletionRequest, messages []chat.Message) (stream.Stream, error) {
	input := c.buildConverseStreamInput(req, messages)
	if len(input.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	c.Logger().Debug("Creating Bedrock stream",
		"model", aws.ToString(input.ModelId),
		"message_count", len(input.Messages),
		"tool_count", len(req.Tools))

	output, err := c.bedrockClient.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream failed: %w", err)
	}

	return newStreamAdapter(output.GetStream(), aws.ToString(input.ModelId)), nil
}

func (c *Client) buildConverseStreamInput(req *chat.CompletionRequest, messages []chat.Message) *bedrockruntime.ConverseStreamInput {
	model := c.ModelConfig.Model
	if req.Model != "" {
		model = req.Model
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}
	input.Messages, input.System = convertMessages(req.SystemPrompt, messages)
	input.InferenceConfig = c.buildInferenceConfig(req)

	if len(req.Tools) > 0 {
		input.ToolConfig = convertToolConfig(req.Tools, req.ToolChoice)
	}
	if fields := c.buildAdditionalModelRequestFields(req); fields != nil {
		input.AdditionalModelRequestFields = fields
	}

	return input
}

func (c *Client) buildInferenceConfig(req *chat.CompletionRequest) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(*req.MaxTokens))
	}

	// Extended thinking requires the default temperature.
	if c.ModelConfig.Temperature != nil && !c.thinkingEnabled(req) {
		cfg.Temperature = aws.Float32(float32(*c.ModelConfig.Temperature))
	}
	return cfg
}

func (c *Client) thinkingEnabled(req *chat.CompletionRequest) bool {
	budget := c.ModelConfig.ThinkingBudget
	if budget < minThinkingBudget {
		return false
	}
	return req.MaxTokens == nil || int64(budget) < *req.MaxTokens
}

// buildAdditionalModelRequestFields carries the extended thinking settings
// for Claude models, which Converse has no native field for.
func (c *Client) buildAdditionalModelRequestFields(req *chat.CompletionRequest) document.Interface {
	if !c.thinkingEnabled(req) {
		if c.ModelConfig.ThinkingBudget > 0 {
			c.Logger().Warn("Ignoring Bedrock thinking_budget", "thinking_budget", c.ModelConfig.ThinkingBudget)
		}
		return nil
	}

	fields := map[string]any{
		"thinking": map[string]any{
			"type":          "enabled",
			"budget_tokens": c.ModelConfig.ThinkingBudget,
		},
	}
	if base.ProviderOpt[bool](c.ModelConfig.ProviderOpts, "interleaved_thinking") {
		fields["anthropic_beta"] = []string{"interleaved-thinking-2025-05-14"}
	}
	return document.NewLazyDocument(fields)
}
