package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a configurable LLM client for testing. Set the response
// fields to control what each method returns.
type MockClient struct {
	mu sync.Mutex

	// ConceptsByText maps an exact input to its concepts. Texts without an
	// entry fall back to ConceptsResponse, or to the lowercase words of the
	// text when that is nil too.
	ConceptsByText   map[string][]string
	ConceptsResponse []string
	ConceptsError    error

	GenerateText       string
	GenerateConfidence float64
	GenerateError      error

	// Call tracking for assertions
	ExtractConceptsCalls []string
	GenerateCalls        []struct{ Prompt, Background string }
}

func NewMockClient() *MockClient {
	return &MockClient{
		ConceptsByText:     make(map[string][]string),
		GenerateText:       "Mock hypothesis",
		GenerateConfidence: 0.9,
	}
}

func (m *MockClient) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtractConceptsCalls = append(m.ExtractConceptsCalls, text)
	if m.ConceptsError != nil {
		return nil, m.ConceptsError
	}
	if c, ok := m.ConceptsByText[text]; ok {
		return append([]string(nil), c...), nil
	}
	if m.ConceptsResponse != nil {
		return append([]string(nil), m.ConceptsResponse...), nil
	}
	return strings.Fields(strings.ToLower(text)), nil
}

func (m *MockClient) Generate(ctx context.Context, prompt, background string) (string, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, struct{ Prompt, Background string }{prompt, background})
	if m.GenerateError != nil {
		return "", 0, m.GenerateError
	}
	return m.GenerateText, m.GenerateConfidence, nil
}

func (m *MockClient) ExtractCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ExtractConceptsCalls)
}
