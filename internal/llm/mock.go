package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable client for tests. Responses are returned in
// order; when the script runs out the last response repeats.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []string
	err       error
	calls     []string
	index     int
}

// NewMockClient creates a mock that replays the given responses.
func NewMockClient(model string, responses ...string) *MockClient {
	return &MockClient{model: model, responses: responses}
}

// NewFailingMockClient creates a mock whose every call returns err.
func NewFailingMockClient(model string, err error) *MockClient {
	return &MockClient{model: model, err: err}
}

// Complete replays the next scripted response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem replays the next scripted response, recording the call.
func (m *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	return resp, nil
}

// Model returns the mock's model name.
func (m *MockClient) Model() string {
	return m.model
}

// Calls returns the prompts seen so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
