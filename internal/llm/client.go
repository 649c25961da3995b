package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// DefaultBaseURL is the OpenRouter API root used when no base URL is configured.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultModel is used for both simulation and judging when nothing else is set.
const DefaultModel = "openai/gpt-oss-safeguard-20b"

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role" yaml:"role" validate:"required,oneof=user assistant system tool"`
	Content string `json:"content" yaml:"content"`
}

// Client abstracts an OpenAI-compatible chat completion API.
type Client interface {
	// Chat sends the conversation to the given model and returns the
	// assistant's reply. An empty model selects the client default.
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}

// OpenAIClient implements Client on top of go-openai. Requests go through a
// recovering transport that handles provider error shapes and a retry loop
// that replays rate-limited and 5xx attempts.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	retry    RetryPolicy
	observer AttemptObserver
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := &clientConfig{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	doer := cfg.httpDoer
	if doer == nil {
		doer = http.DefaultClient
	}

	config := openai.DefaultConfig(cfg.apiKey)
	config.BaseURL = cfg.baseURL
	config.HTTPClient = &recoveringDoer{
		next:    doer,
		referer: cfg.referer,
		title:   cfg.title,
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		model:    cfg.model,
		retry:    cfg.retry,
		observer: cfg.observer,
	}
}

// Model returns the default model of the client.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat sends a non-streaming chat completion request, retrying transient
// upstream failures according to the client's retry policy.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = c.model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	maxRetries := max(c.retry.MaxRetries, 0)
	attempts := 0
	operation := func() (string, error) {
		attempts++
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			var upstream *UpstreamError
			if errors.As(err, &upstream) && upstream.Retryable() {
				c.observe(OutcomeRetryable)
				return "", err
			}
			c.observe(OutcomeFailed)
			return "", backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			c.observe(OutcomeFailed)
			return "", backoff.Permanent(&UpstreamError{StatusCode: http.StatusOK, Message: "no choices returned"})
		}
		if resp.Header().Get(recoveredHeader) != "" {
			c.observe(OutcomeRecovered)
		} else {
			c.observe(OutcomeSucceeded)
		}
		return resp.Choices[0].Message.Content, nil
	}

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retry.backOff()),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Warn("retrying chat completion",
				"model", model,
				"attempt", attempts,
				"max_retries", maxRetries,
				"delay", delay,
				"error", err,
			)
		}),
	)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && upstream.Retryable() && attempts > maxRetries {
			slog.Error("chat completion failed after retries", "model", model, "attempts", attempts, "error", err)
			return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	slog.Debug("chat completion received", "model", model, "chars", len(content), "attempts", attempts)
	return content, nil
}

// ListModels returns the sorted identifiers of the models the provider serves.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *OpenAIClient) observe(outcome string) {
	if c.observer != nil {
		c.observer(outcome)
	}
}
