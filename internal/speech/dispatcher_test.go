package speech

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Synthesize(_ context.Context, text, language string) (Synthesis, error) {
	p.calls++
	if p.err != nil {
		return Synthesis{}, p.err
	}
	return Synthesis{Audio: []byte(p.name + ":" + text), ContentType: "audio/mock", Provider: p.name}, nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDispatcherPrimaryServes(t *testing.T) {
	primary := &stubProvider{name: "google"}
	fallback := &stubProvider{name: "elevenlabs"}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	out, err := d.Synthesize(context.Background(), "hello", "en", "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if out.Provider != "google" {
		t.Fatalf("Provider = %q, want google", out.Provider)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestDispatcherFallsBackSequentially(t *testing.T) {
	primary := &stubProvider{name: "google", err: errors.New("quota")}
	fallback := &stubProvider{name: "elevenlabs"}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	out, err := d.Synthesize(context.Background(), "hello", "en", "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if out.Provider != "elevenlabs" {
		t.Fatalf("Provider = %q, want elevenlabs", out.Provider)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestDispatcherStickyFallback(t *testing.T) {
	primary := &stubProvider{name: "google", err: errors.New("down")}
	fallback := &stubProvider{name: "elevenlabs"}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	if _, err := d.Synthesize(context.Background(), "a", "en", ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	// Second turn should go straight to the fallback.
	if _, err := d.Synthesize(context.Background(), "b", "en", ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1 (fallback should be sticky)", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestDispatcherRecoversToPrimary(t *testing.T) {
	primary := &stubProvider{name: "google", err: errors.New("down")}
	fallback := &stubProvider{name: "elevenlabs"}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	if _, err := d.Synthesize(context.Background(), "a", "en", ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	// Fallback breaks, primary is healthy again: the turn lands on primary
	// and the sticky flag resets.
	primary.err = nil
	fallback.err = errors.New("down too")
	out, err := d.Synthesize(context.Background(), "b", "en", "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if out.Provider != "google" {
		t.Fatalf("Provider = %q, want google", out.Provider)
	}

	fallback.err = nil
	fallbackCalls := fallback.calls
	if _, err := d.Synthesize(context.Background(), "c", "en", ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if fallback.calls != fallbackCalls {
		t.Fatalf("fallback called after primary recovered")
	}
}

func TestDispatcherAllFail(t *testing.T) {
	primary := &stubProvider{name: "google", err: errors.New("down")}
	fallback := &stubProvider{name: "elevenlabs", err: errors.New("also down")}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	_, err := d.Synthesize(context.Background(), "hello", "en", "")
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
}

func TestDispatcherPreferredProviderFirst(t *testing.T) {
	primary := &stubProvider{name: "google"}
	fallback := &stubProvider{name: "elevenlabs"}
	d := NewDispatcher(primary, fallback, nil, 0, testLogger())

	out, err := d.Synthesize(context.Background(), "hello", "en", "elevenlabs")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if out.Provider != "elevenlabs" {
		t.Fatalf("Provider = %q, want preferred elevenlabs", out.Provider)
	}
	if primary.calls != 0 {
		t.Fatalf("primary called despite preferred fallback")
	}
}
