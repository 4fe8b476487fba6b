package speech

import (
	"context"
	"strings"
)

// MockProvider is the dev/test backend used when no API keys are configured.
// It returns the utterance bytes themselves so callers can assert on content.
type MockProvider struct {
	name string
}

func NewMockProvider() *MockProvider { return &MockProvider{name: "mock"} }

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Synthesize(_ context.Context, text, language string) (Synthesis, error) {
	payload := language + ":" + strings.TrimSpace(text)
	return Synthesis{
		Audio:       []byte(payload),
		ContentType: "audio/mock",
		Provider:    p.name,
	}, nil
}
