package base

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/httpclient"
	"github.com/docker/agentloop/pkg/model/provider/options"
)

// Config is a common base configuration shared by all provider clients.
// It can be embedded in provider-specific Client structs.
type Config struct {
	ModelConfig  config.ModelConfig
	ModelOptions options.ModelOptions
	Env          environment.Provider
}

// ID returns the provider and model ID in the format "provider/model"
func (c *Config) ID() string {
	return c.ModelConfig.Provider + "/" + c.ModelConfig.Model
}

func (c *Config) Logger() *slog.Logger {
	return c.ModelOptions.Logger()
}

// HTTPClient returns the injected client or one tagged with this model.
func (c *Config) HTTPClient() *http.Client {
	if client := c.ModelOptions.HTTPClient(); client != nil {
		return client
	}
	return httpclient.NewHTTPClient(
		httpclient.WithProvider(c.ModelConfig.Provider),
		httpclient.WithModel(c.ModelConfig.Model),
	)
}

// APIKey resolves the key named by token_key, falling back to def.
func (c *Config) APIKey(ctx context.Context, def string) (string, error) {
	name := c.ModelConfig.TokenKey
	if name == "" {
		name = def
	}
	key, _ := c.Env.Get(ctx, name)
	if key == "" {
		return "", fmt.Errorf("%s environment variable is required", name)
	}
	return key, nil
}

// ProviderOpt extracts a typed value from provider_opts.
func ProviderOpt[T any](opts map[string]any, key string) T {
	var zero T
	v, ok := opts[key]
	if !ok {
		return zero
	}
	typed, ok := v.(T)
	if !ok {
		return zero
	}
	return typed
}
