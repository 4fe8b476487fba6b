package heygen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/observability"
)

// FlagStore is the slice of the session registry the monitor needs: flipping
// readiness flags without bumping session activity.
type FlagStore interface {
	SetProviderFlags(sessionID string, ready, healthy bool) error
}

// Monitor warms the live avatar backend up per session ahead of escalation
// and keeps a periodic health signal. Preparation is fire-and-forget: the
// user-facing turn never waits on it, and failures only leave the flags
// false for the state machine to read on the next event.
type Monitor struct {
	client        Client
	flags         FlagStore
	warmupTimeout time.Duration
	log           *logrus.Logger
	metrics       *observability.Metrics

	mu       sync.Mutex
	prepared map[string]bool // sessionID -> warmup succeeded
	inflight map[string]bool
	healthy  bool
}

func NewMonitor(client Client, flags FlagStore, warmupTimeout time.Duration, log *logrus.Logger, metrics *observability.Metrics) *Monitor {
	if warmupTimeout <= 0 {
		warmupTimeout = 10 * time.Second
	}
	return &Monitor{
		client:        client,
		flags:         flags,
		warmupTimeout: warmupTimeout,
		log:           log,
		metrics:       metrics,
		prepared:      make(map[string]bool),
		inflight:      make(map[string]bool),
		healthy:       true,
	}
}

// Prepare kicks off background session preparation. Repeat calls for a
// session that is already prepared or in flight are no-ops.
func (m *Monitor) Prepare(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	if m.prepared[sessionID] || m.inflight[sessionID] {
		m.mu.Unlock()
		return
	}
	m.inflight[sessionID] = true
	m.mu.Unlock()

	m.metrics.SessionEvents.WithLabelValues("provider_warmup_start").Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.warmupTimeout)
		defer cancel()

		err := m.client.PrepareSession(ctx, sessionID)

		m.mu.Lock()
		delete(m.inflight, sessionID)
		if err == nil {
			m.prepared[sessionID] = true
		}
		healthy := m.healthy
		m.mu.Unlock()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.metrics.SessionEvents.WithLabelValues("provider_warmup_timeout").Inc()
			} else {
				m.metrics.SessionEvents.WithLabelValues("provider_warmup_failed").Inc()
			}
			m.metrics.ProviderErrors.WithLabelValues("heygen", "prepare").Inc()
			m.log.WithError(err).WithField("session_id", sessionID).Warn("avatar provider warmup failed")
			return
		}

		m.metrics.SessionEvents.WithLabelValues("provider_warmup_ok").Inc()
		if err := m.flags.SetProviderFlags(sessionID, true, healthy); err != nil {
			// Session evicted while warming up; nothing to flag.
			m.mu.Lock()
			delete(m.prepared, sessionID)
			m.mu.Unlock()
		}
	}()
}

// Forget drops tracking for a removed session.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prepared, sessionID)
	delete(m.inflight, sessionID)
}

// Healthy reports the last known health signal.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// HealthCheckTick pings the provider once and refreshes the ProviderHealthy
// flag on every prepared session.
func (m *Monitor) HealthCheckTick(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := m.client.HealthPing(pingCtx)
	cancel()

	healthy := err == nil
	if err != nil {
		m.metrics.ProviderErrors.WithLabelValues("heygen", "health").Inc()
		m.log.WithError(err).Warn("avatar provider health ping failed")
	}

	m.mu.Lock()
	m.healthy = healthy
	ids := make([]string, 0, len(m.prepared))
	for id, ok := range m.prepared {
		if ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.flags.SetProviderFlags(id, true, healthy); err != nil {
			m.Forget(id)
		}
	}
}

// StartHealthLoop re-checks provider health on a fixed interval until ctx is
// done.
func (m *Monitor) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.HealthCheckTick(ctx)
			}
		}
	}()
}
