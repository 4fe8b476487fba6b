package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Registry owns the in-memory session table. All mutation goes through
// GetOrCreate/Update/Remove so one lock serializes writes per process;
// reads hand out clones so callers never touch shared state.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onRemove    func(sessionID string)
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// SetRemoveHook registers a callback fired after a session leaves the table,
// whether by explicit Remove or by the idle sweep. Used to cancel protocol
// timers and drop provider-monitor tracking for the id.
func (r *Registry) SetRemoveHook(hook func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// GetOrCreate returns the session for id, lazily initializing a fresh one in
// waiting mode on first sight. It never fails.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		now := time.Now().UTC()
		s = &Session{
			ID:             id,
			Mode:           ModeWaiting,
			StartedAt:      now,
			LastActivityAt: now,
		}
		r.sessions[id] = s
	}
	return clone(s)
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Update applies fn to the stored session under the registry lock and bumps
// LastActivityAt. The session is created first if it does not exist, so event
// handling on an unseen id behaves like a fresh conversation.
func (r *Registry) Update(id string, fn func(*Session)) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		now := time.Now().UTC()
		s = &Session{
			ID:             id,
			Mode:           ModeWaiting,
			StartedAt:      now,
			LastActivityAt: now,
		}
		r.sessions[id] = s
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return clone(s)
}

// UpdateExisting applies fn only when the session is already present and
// bumps LastActivityAt. Unlike Update it never creates: background callbacks
// (protocol stage timers) use it so a late write cannot resurrect a removed
// session.
func (r *Registry) UpdateExisting(id string, fn func(*Session)) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// SetProviderFlags updates the readiness flags without touching
// LastActivityAt: background monitor completions must not keep an otherwise
// idle session alive.
func (r *Registry) SetProviderFlags(id string, ready, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ProviderReady = ready
	s.ProviderHealthy = healthy
	return nil
}

// Remove deletes the session and fires the remove hook. Removing an absent
// id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hook := r.onRemove
	r.mu.Unlock()

	if ok && hook != nil {
		hook(id)
	}
}

// SweepIdle removes every session whose last activity is older than
// threshold relative to now and returns how many were evicted.
func (r *Registry) SweepIdle(now time.Time, threshold time.Duration) int {
	var evicted []string

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) <= threshold {
			continue
		}
		delete(r.sessions, id)
		evicted = append(evicted, id)
	}
	hook := r.onRemove
	r.mu.Unlock()

	if hook != nil {
		for _, id := range evicted {
			hook(id)
		}
	}
	return len(evicted)
}

// StartJanitor runs the idle sweep on a fixed interval until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.SweepIdle(now.UTC(), r.idleTimeout)
			}
		}
	}()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns a snapshot of all live session ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
