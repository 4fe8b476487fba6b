package session

import (
	"context"
	"testing"
	"time"
)

func TestRegistryGetOrCreateInitializesWaiting(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := r.GetOrCreate("s1")
	if s.Mode != ModeWaiting {
		t.Fatalf("Mode = %q, want %q", s.Mode, ModeWaiting)
	}
	if s.InteractionCount != 0 {
		t.Fatalf("InteractionCount = %d, want 0", s.InteractionCount)
	}

	again := r.GetOrCreate("s1")
	if again.StartedAt != s.StartedAt {
		t.Fatalf("GetOrCreate created a second session for the same id")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryGetUnknownReturnsSentinel(t *testing.T) {
	r := NewRegistry(time.Minute)
	if _, err := r.Get("nope"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryUpdateBumpsActivity(t *testing.T) {
	r := NewRegistry(time.Minute)
	before := r.GetOrCreate("s1").LastActivityAt

	time.Sleep(2 * time.Millisecond)
	got := r.Update("s1", func(s *Session) {
		s.InteractionCount++
	})
	if got.InteractionCount != 1 {
		t.Fatalf("InteractionCount = %d, want 1", got.InteractionCount)
	}
	if !got.LastActivityAt.After(before) {
		t.Fatalf("LastActivityAt not bumped by Update")
	}
}

func TestRegistryUpdateExistingNeverCreates(t *testing.T) {
	r := NewRegistry(time.Minute)

	if _, err := r.UpdateExisting("ghost", func(s *Session) {
		s.InteractionCount++
	}); err != ErrNotFound {
		t.Fatalf("UpdateExisting() error = %v, want ErrNotFound", err)
	}
	if r.Len() != 0 {
		t.Fatalf("UpdateExisting created a session: Len() = %d", r.Len())
	}

	r.GetOrCreate("real")
	got, err := r.UpdateExisting("real", func(s *Session) {
		s.CurrentVideoRef = "/assets/avatar/speaking-placeholder.mp4"
	})
	if err != nil {
		t.Fatalf("UpdateExisting() error = %v", err)
	}
	if got.CurrentVideoRef == "" {
		t.Fatalf("UpdateExisting did not apply the mutation")
	}
}

func TestRegistryRemoveIdempotentAndHooked(t *testing.T) {
	r := NewRegistry(time.Minute)
	var hooked []string
	r.SetRemoveHook(func(id string) { hooked = append(hooked, id) })

	r.GetOrCreate("s1")
	r.Remove("s1")
	r.Remove("s1")

	if _, err := r.Get("s1"); err != ErrNotFound {
		t.Fatalf("Get() after Remove error = %v, want ErrNotFound", err)
	}
	if len(hooked) != 1 || hooked[0] != "s1" {
		t.Fatalf("remove hook fired %v times, want exactly once for s1", hooked)
	}
}

func TestRegistrySweepIdleThreshold(t *testing.T) {
	r := NewRegistry(10 * time.Minute)
	now := time.Now().UTC()

	r.Update("stale", func(s *Session) {})
	r.Update("fresh", func(s *Session) {})

	// Backdate directly through Update, then rewrite the timestamps the
	// sweep compares against.
	r.mu.Lock()
	r.sessions["stale"].LastActivityAt = now.Add(-601 * time.Second)
	r.sessions["fresh"].LastActivityAt = now.Add(-599 * time.Second)
	r.mu.Unlock()

	removed := r.SweepIdle(now, 600*time.Second)
	if removed != 1 {
		t.Fatalf("SweepIdle() = %d, want 1", removed)
	}
	if _, err := r.Get("stale"); err != ErrNotFound {
		t.Fatalf("stale session survived the sweep")
	}
	if _, err := r.Get("fresh"); err != nil {
		t.Fatalf("fresh session evicted: %v", err)
	}
}

func TestRegistryJanitorEvictsInactive(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	r.GetOrCreate("s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	deadline := time.After(500 * time.Millisecond)
	for {
		if _, err := r.Get("s1"); err == ErrNotFound {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("janitor did not evict the idle session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistrySetProviderFlagsKeepsActivity(t *testing.T) {
	r := NewRegistry(time.Minute)
	before := r.GetOrCreate("s1").LastActivityAt

	time.Sleep(2 * time.Millisecond)
	if err := r.SetProviderFlags("s1", true, true); err != nil {
		t.Fatalf("SetProviderFlags() error = %v", err)
	}
	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.ProviderReady || !got.ProviderHealthy {
		t.Fatalf("provider flags not set: %+v", got)
	}
	if !got.LastActivityAt.Equal(before) {
		t.Fatalf("SetProviderFlags bumped LastActivityAt")
	}
}
