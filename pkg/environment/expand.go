package environment

import (
	"context"
	"fmt"
	"os"
)

func ExpandAll(ctx context.Context, values []string, env Provider) ([]string, error) {
	var expandedEnv []string

	for _, value := range values {
		expanded, err := Expand(ctx, value, env)
		if err != nil {
			return nil, err
		}

		expandedEnv = append(expandedEnv, expanded)
	}

	return expandedEnv, nil
}

// Expand replaces ${var} and $var references in value. Unknown variables
// are an error.
func Expand(ctx context.Context, value string, env Provider) (string, error) {
	var err error

	expanded := os.Expand(value, func(name string) string {
		v, ok := env.Get(ctx, name)
		if !ok && err == nil {
			err = fmt.Errorf("environment variable %q not set", name)
		}
		return v
	})
	if err != nil {
		return "", err
	}

	return expanded, nil
}
