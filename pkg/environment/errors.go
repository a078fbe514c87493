package environment

import (
	"context"
	"strings"
)

type RequiredEnvError struct {
	Missing []string
}

var _ error = &RequiredEnvError{}

func (e *RequiredEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// Require returns a RequiredEnvError listing every name env has no
// non-empty value for.
func Require(ctx context.Context, env Provider, names ...string) error {
	var missing []string
	for _, name := range names {
		if v, ok := env.Get(ctx, name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &RequiredEnvError{Missing: missing}
	}
	return nil
}
