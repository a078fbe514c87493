package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

var (
	// ErrIncompleteStream is returned when a stream ended without a
	// complete assistant message.
	ErrIncompleteStream = errors.New("stream ended before the message completed")
	// ErrMissingToolResults is returned when a turn requested tools but not
	// every call produced a result.
	ErrMissingToolResults = errors.New("tool calls finished without results")
)

// RunError reports the turn an agent run failed on.
type RunError struct {
	Turn int
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("turn %d: %v", e.Turn+1, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// statusCodeRegex matches HTTP status codes in error messages, e.g. `POST "/v1/messages": 429 Too Many Requests`.
var statusCodeRegex = regexp.MustCompile(`\b([45]\d{2})\b`)

// StatusCode extracts the HTTP status code of a provider error, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}

	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code
	}
	var geminiErrPtr *genai.APIError
	if errors.As(err, &geminiErrPtr) {
		return geminiErrPtr.Code
	}

	var awsErr *smithyhttp.ResponseError
	if errors.As(err, &awsErr) {
		return awsErr.HTTPStatusCode()
	}

	if m := statusCodeRegex.FindStringSubmatch(err.Error()); len(m) >= 2 {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code
		}
	}
	return 0
}

// IsRetryable reports whether retrying the same request may succeed.
// Rate limits are not retryable: the provider is asking callers to back off.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if code := StatusCode(err); code != 0 {
		switch code {
		case 408, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "unexpected eof", "overloaded"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
