package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// It can also be used for dry-run mode. Safe for concurrent use.
type MockClient struct {
	Response *Response
	Err      error
	Calls    []string // records prompts sent

	// Respond, when set, overrides Response/Err per prompt.
	Respond func(prompt string) (*Response, error)

	mu sync.Mutex
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	m.mu.Unlock()
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	return m.Response, m.Err
}

// CallCount returns the number of prompts received so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
