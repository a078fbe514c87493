package httpclient

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/docker/agentloop/pkg/version"
)

type HTTPOptions struct {
	Header http.Header
}

type Opt func(*HTTPOptions)

// WithHeader sets a header on every request.
func WithHeader(key, value string) Opt {
	return func(o *HTTPOptions) {
		o.Header.Set(key, value)
	}
}

// WithProvider tags requests with the model provider they are sent for.
func WithProvider(provider string) Opt {
	return WithHeader("X-Agentloop-Provider", provider)
}

func WithModel(model string) Opt {
	return func(o *HTTPOptions) {
		if model != "" {
			o.Header.Set("X-Agentloop-Model", model)
		}
	}
}

func NewHTTPClient(opts ...Opt) *http.Client {
	httpOptions := HTTPOptions{
		Header: make(http.Header),
	}
	for _, opt := range opts {
		opt(&httpOptions)
	}

	return &http.Client{
		Transport: &userAgentTransport{
			agent:  UserAgent(),
			header: httpOptions.Header,
			rt:     http.DefaultTransport,
		},
	}
}

func UserAgent() string {
	return fmt.Sprintf("Agentloop/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
}

type userAgentTransport struct {
	agent  string
	header http.Header
	rt     http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", u.agent)
	for key, values := range u.header {
		for _, v := range values {
			r2.Header.Set(key, v)
		}
	}
	return u.rt.RoundTrip(r2)
}
