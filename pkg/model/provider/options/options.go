package options

import (
	"log/slog"
	"net/http"
)

type ModelOptions struct {
	httpClient *http.Client
	maxRetries *int
	logger     *slog.Logger
}

func (c *ModelOptions) HTTPClient() *http.Client {
	return c.httpClient
}

// MaxRetries returns the SDK retry budget, or nil to keep the SDK default.
func (c *ModelOptions) MaxRetries() *int {
	return c.maxRetries
}

func (c *ModelOptions) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

type Opt func(*ModelOptions)

func WithHTTPClient(client *http.Client) Opt {
	return func(cfg *ModelOptions) {
		cfg.httpClient = client
	}
}

func WithMaxRetries(maxRetries int) Opt {
	return func(cfg *ModelOptions) {
		cfg.maxRetries = &maxRetries
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(cfg *ModelOptions) {
		cfg.logger = logger
	}
}

// Apply folds opts into a ModelOptions value, skipping nil entries.
func Apply(opts ...Opt) ModelOptions {
	var m ModelOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}
