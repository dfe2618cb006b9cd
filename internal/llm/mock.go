package llm

import (
	"context"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// MockClient is a configurable chat client for testing.
// Scripted Responses are returned in order; once exhausted, Response is
// returned for every remaining call.
type MockClient struct {
	Response  string
	Responses []string
	Err       error

	// Call tracking for assertions
	Calls []string

	next int
}

var _ domain.ChatClient = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{Response: "mock response"}
}

func (m *MockClient) Chat(ctx context.Context, prompt string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if m.next < len(m.Responses) {
		resp := m.Responses[m.next]
		m.next++
		return resp, nil
	}
	return m.Response, nil
}

// Reset clears tracked calls, injected errors and the script position.
func (m *MockClient) Reset() {
	m.Calls = nil
	m.Err = nil
	m.next = 0
}
