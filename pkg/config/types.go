package config

import "github.com/docker/agentloop/pkg/chat"

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "google"
	ProviderBedrock   = "amazon-bedrock"

	ToolsetBuiltin = "builtin"
	ToolsetMCP     = "mcp"
)

// Config is the root of an agentloop YAML file.
type Config struct {
	Model    ModelConfig     `json:"model" yaml:"model"`
	Agent    AgentConfig     `json:"agent,omitempty" yaml:"agent,omitempty"`
	Toolsets []ToolsetConfig `json:"toolsets,omitempty" yaml:"toolsets,omitempty"`
	Storage  StorageConfig   `json:"storage,omitempty" yaml:"storage,omitempty"`
	Server   ServerConfig    `json:"server,omitempty" yaml:"server,omitempty"`
}

// ModelConfig selects the provider and model a run talks to.
type ModelConfig struct {
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	MaxTokens   *int64   `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// TokenKey names the environment variable holding the API key. Each
	// provider has a default.
	TokenKey string `json:"token_key,omitempty" yaml:"token_key,omitempty"`
	// ThinkingBudget enables extended thinking with this many tokens on
	// providers that support it.
	ThinkingBudget int            `json:"thinking_budget,omitempty" yaml:"thinking_budget,omitempty"`
	ProviderOpts   map[string]any `json:"provider_opts,omitempty" yaml:"provider_opts,omitempty"`
}

type AgentConfig struct {
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	MaxTurns    int    `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	ToolChoice  string `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
}

// ToolsetConfig declares where tools come from.
type ToolsetConfig struct {
	Type string `json:"type" yaml:"type"`

	// builtin
	Tools      []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// mcp
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Remote  *RemoteConfig     `json:"remote,omitempty" yaml:"remote,omitempty"`
}

type RemoteConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type ServerConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// CompletionRequest builds the request template for a run.
func (c *Config) CompletionRequest() *chat.CompletionRequest {
	return &chat.CompletionRequest{
		Model:        c.Model.Model,
		MaxTokens:    c.Model.MaxTokens,
		ToolChoice:   c.Agent.ToolChoice,
		MaxTurns:     c.Agent.MaxTurns,
		Stream:       true,
		SystemPrompt: c.Agent.Instruction,
	}
}
