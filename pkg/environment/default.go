package environment

import "fmt"

// NewDefaultProvider reads the process environment first, then the given
// env files in order.
func NewDefaultProvider(envFiles ...string) (Provider, error) {
	providers := []Provider{NewOsEnvProvider()}
	for _, f := range envFiles {
		p, err := NewEnvFileProvider(f)
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", f, err)
		}
		providers = append(providers, p)
	}
	return NewMultiProvider(providers...), nil
}
