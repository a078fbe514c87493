package config

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/paths"
)

const DefaultListenAddr = "127.0.0.1:8080"

var providers = []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderBedrock}

// defaultTokenKeys maps providers to the environment variable holding
// their API key. Bedrock authenticates through the AWS credential chain.
var defaultTokenKeys = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GOOGLE_API_KEY",
}

func Load(ctx context.Context, source Source) (*Config, error) {
	data, err := source.Read(ctx)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parsing config file %s\n%s", source.Name(), yaml.FormatError(err, false, true))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", source.Name(), err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Agent.MaxTurns == 0 {
		c.Agent.MaxTurns = chat.DefaultMaxTurns
	}
	c.Model.TokenKey = cmp.Or(c.Model.TokenKey, defaultTokenKeys[c.Model.Provider])
	c.Storage.Path = paths.ExpandHome(cmp.Or(c.Storage.Path, filepath.Join(paths.GetDataDir(), "sessions.db")))
	c.Server.Listen = cmp.Or(c.Server.Listen, DefaultListenAddr)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.Model.Provider == "":
		errs = append(errs, errors.New("model.provider is required"))
	case !slices.Contains(providers, c.Model.Provider):
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q (must be one of %v)", c.Model.Provider, providers))
	}
	if c.Model.Model == "" {
		errs = append(errs, errors.New("model.model is required"))
	}
	if c.Model.MaxTokens != nil && *c.Model.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("model.max_tokens must be positive, got %d", *c.Model.MaxTokens))
	}
	if c.Model.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Model.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("model.base_url: %w", err))
		}
	}
	if c.Agent.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must not be negative, got %d", c.Agent.MaxTurns))
	}

	for i, ts := range c.Toolsets {
		if err := ts.validate(); err != nil {
			errs = append(errs, fmt.Errorf("toolsets[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (t *ToolsetConfig) validate() error {
	switch t.Type {
	case ToolsetBuiltin:
		if t.Command != "" || t.Remote != nil {
			return errors.New("builtin toolsets take no command or remote")
		}
	case ToolsetMCP:
		switch {
		case t.Command == "" && t.Remote == nil:
			return errors.New("mcp toolsets need a command or a remote")
		case t.Command != "" && t.Remote != nil:
			return errors.New("mcp toolsets take either a command or a remote, not both")
		case t.Remote != nil:
			if _, err := url.ParseRequestURI(t.Remote.URL); err != nil {
				return fmt.Errorf("remote.url: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown toolset type %q", t.Type)
	}
	return nil
}

// CheckRequiredEnvVars fails early when the model's API key is missing.
func CheckRequiredEnvVars(ctx context.Context, cfg *Config, env environment.Provider) error {
	if cfg.Model.TokenKey == "" {
		return nil
	}
	return environment.Require(ctx, env, cfg.Model.TokenKey)
}
