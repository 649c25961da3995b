// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/giantswarm/prompt-testing/internal/llm"
)

// ChatCall is one recorded invocation of MockLLMClient.Chat.
type ChatCall struct {
	Messages []llm.Message
	Model    string
}

// MockLLMClient is a configurable mock for llm.Client used across test packages.
// Lookup order: Handler, Responses keyed by the last message content, Script
// in order, DefaultResponse.
type MockLLMClient struct {
	// Handler, when set, answers every call.
	Handler func(messages []llm.Message, model string) (string, error)

	// Responses maps the content of the last message to a canned response.
	Responses map[string]string

	// Script is consumed one entry per call. The last entry repeats.
	Script []string

	// DefaultResponse is returned when nothing else matches.
	DefaultResponse string

	mu    sync.Mutex
	calls []ChatCall
}

func (m *MockLLMClient) Chat(_ context.Context, messages []llm.Message, model string) (string, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, ChatCall{Messages: slices.Clone(messages), Model: model})
	m.mu.Unlock()

	if m.Handler != nil {
		return m.Handler(messages, model)
	}

	if len(messages) > 0 {
		if resp, ok := m.Responses[messages[len(messages)-1].Content]; ok {
			return resp, nil
		}
	}

	if len(m.Script) > 0 {
		return m.Script[min(n, len(m.Script)-1)], nil
	}

	if m.DefaultResponse != "" {
		return m.DefaultResponse, nil
	}
	return "mock response", nil
}

// Calls returns a copy of the recorded calls.
func (m *MockLLMClient) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns the number of Chat invocations.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
