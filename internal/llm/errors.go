package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetriesExhausted is wrapped into the error returned when every attempt
// allowed by the retry policy failed with a retryable status.
var ErrRetriesExhausted = errors.New("retries exhausted")

// UpstreamError is returned when the provider did not produce usable content.
type UpstreamError struct {
	// StatusCode is the HTTP status of the response. Error-shaped 200
	// responses keep 200 here.
	StatusCode int
	// Body is the raw response payload, when one was read.
	Body string
	// Message describes the failure when the body alone does not.
	Message string
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Message != "" && e.Body != "":
		return fmt.Sprintf("upstream error (status %d): %s: %s", e.StatusCode, e.Message, e.Body)
	case e.Message != "":
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
	}
}

// Retryable reports whether the status is a rate limit or a server error.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode >= 500 && e.StatusCode < 600)
}
