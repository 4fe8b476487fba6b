package speech

import (
	"context"
	"errors"
)

// ErrSynthesisFailed means every configured provider failed for the turn.
// The caller must degrade to a text-only response; there is no audio.
var ErrSynthesisFailed = errors.New("speech synthesis failed on all providers")

// Synthesis is one provider's rendered audio for a single utterance.
type Synthesis struct {
	Audio       []byte
	ContentType string
	Provider    string
}

// Provider turns text into audio for a given BCP-47-ish language tag.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, language string) (Synthesis, error)
}
