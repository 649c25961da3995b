package llm

import "net/http"

// HTTPDoer sends HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AttemptObserver is notified with the outcome of every upstream attempt.
type AttemptObserver func(outcome string)

// Attempt outcomes reported to an AttemptObserver.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRecovered = "recovered"
	OutcomeRetryable = "retryable"
	OutcomeFailed    = "failed"
)

// clientConfig holds configuration for an LLM client.
type clientConfig struct {
	baseURL  string
	apiKey   string
	model    string
	referer  string
	title    string
	retry    RetryPolicy
	httpDoer HTTPDoer
	observer AttemptObserver
}

// Option is a functional option for configuring an LLM client.
type Option func(*clientConfig)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithAPIKey sets the API key sent as bearer token.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model name for requests.
// A model passed to Chat takes precedence.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAppInfo sets the HTTP-Referer and X-Title headers OpenRouter uses to
// attribute traffic.
func WithAppInfo(referer, title string) Option {
	return func(c *clientConfig) {
		c.referer = referer
		c.title = title
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *clientConfig) {
		c.retry = p
	}
}

// WithHTTPDoer sets the underlying HTTP client.
func WithHTTPDoer(d HTTPDoer) Option {
	return func(c *clientConfig) {
		c.httpDoer = d
	}
}

// WithAttemptObserver registers a callback for upstream attempt outcomes.
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(c *clientConfig) {
		c.observer = fn
	}
}
