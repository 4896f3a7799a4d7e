package llm

import (
	"context"
	"sync"
)

// MockResponse is a canned response for the MockProvider.
type MockResponse struct {
	Text    string
	CostUSD *float64
	Err     error
}

// MockProvider is a deterministic Provider for testing.
// It returns canned responses in FIFO order and records all requests.
type MockProvider struct {
	name       string
	configured bool

	mu        sync.Mutex
	responses []MockResponse
	Calls     []CallRequest
}

// NewMockProvider creates a configured MockProvider with the given canned
// responses.
func NewMockProvider(name string, responses ...MockResponse) *MockProvider {
	return &MockProvider{name: name, configured: true, responses: responses}
}

// NewUnconfiguredMock creates a MockProvider that reports no API key.
func NewUnconfiguredMock(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) IsConfigured() bool { return m.configured }

// Generate returns the next canned response or a server error if the
// queue is empty.
func (m *MockProvider) Generate(_ context.Context, req CallRequest) (*CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if len(m.responses) == 0 {
		return nil, newError(CategoryServerError, "Provider %s has no canned responses left", m.name)
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &CallResult{Text: resp.Text, CostUSD: resp.CostUSD}, nil
}

// AddResponse appends a canned response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
