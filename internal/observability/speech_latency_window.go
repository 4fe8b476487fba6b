package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// SpeechProviderStats summarizes recent synthesis latency for one provider.
type SpeechProviderStats struct {
	Provider    string  `json:"provider"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type SpeechIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type SpeechLatencySnapshot struct {
	GeneratedAt time.Time             `json:"generated_at"`
	WindowSize  int                   `json:"window_size"`
	Providers   []SpeechProviderStats `json:"providers"`
	Indicators  []SpeechIndicator     `json:"indicators,omitempty"`
}

// speechLatencyWindow keeps a fixed-size ring of latency samples per
// provider plus counts of notable one-off events (fallback served, cache
// hit). It backs the perf endpoint, not Prometheus.
type speechLatencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	providers  map[string]*latencyRing
	indicators map[string]int
}

type latencyRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newSpeechLatencyWindow(maxSamples int) *speechLatencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &speechLatencyWindow{
		maxSamples: maxSamples,
		providers:  make(map[string]*latencyRing),
		indicators: make(map[string]int),
	}
}

func (w *speechLatencyWindow) Observe(provider string, ms float64) {
	if provider == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.providers[provider]
	if !ok {
		ring = &latencyRing{values: make([]float64, w.maxSamples)}
		w.providers[provider] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *speechLatencyWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *speechLatencyWindow) Snapshot() SpeechLatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.providers))
	for provider := range w.providers {
		keys = append(keys, provider)
	}
	sort.Strings(keys)

	providers := make([]SpeechProviderStats, 0, len(keys))
	for _, provider := range keys {
		ring := w.providers[provider]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, ring.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		providers = append(providers, SpeechProviderStats{
			Provider:    provider,
			Samples:     n,
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			TargetP95MS: providerTargetP95MS(provider),
		})
	}

	indicatorKeys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorKeys = append(indicatorKeys, name)
	}
	sort.Strings(indicatorKeys)
	indicators := make([]SpeechIndicator, 0, len(indicatorKeys))
	for _, name := range indicatorKeys {
		if w.indicators[name] <= 0 {
			continue
		}
		indicators = append(indicators, SpeechIndicator{Name: name, Count: w.indicators[name]})
	}

	return SpeechLatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Providers:   providers,
		Indicators:  indicators,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Budget for a placeholder-speech turn to stay conversational.
func providerTargetP95MS(provider string) float64 {
	switch provider {
	case "google":
		return 800
	case "elevenlabs":
		return 1200
	case "cache":
		return 50
	default:
		return 0
	}
}
