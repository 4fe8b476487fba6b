package testprotocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/observability"
)

var (
	// ErrNoActiveProtocol means Advance/progress was requested before Start.
	// This is a caller bug, not a condition to paper over.
	ErrNoActiveProtocol = errors.New("no active test protocol for session")
	ErrUnknownProtocol  = errors.New("unknown test protocol")
)

// Stage is one scripted step: which video to show, which speech backend to
// verify, what line to speak, and how long before auto-advancing.
type Stage struct {
	Video         string `json:"video"`
	AudioProvider string `json:"audio_provider"`
	DurationMS    int64  `json:"duration_ms"`
	Message       string `json:"message"`
}

type Protocol struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// StageInfo reports the runner's position within a protocol.
type StageInfo struct {
	Protocol   string `json:"protocol"`
	Stage      int    `json:"stage"`
	StageCount int    `json:"stage_count"`
	Progress   int    `json:"progress"`
	Complete   bool   `json:"complete"`
	Video      string `json:"video,omitempty"`
	AudioProv  string `json:"audio_provider,omitempty"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Status is the read-only view for the status endpoint.
type Status struct {
	Active   bool `json:"active"`
	Stage    int  `json:"stage"`
	Stages   int  `json:"stages"`
	Progress int  `json:"progress"`

	Protocol string `json:"protocol,omitempty"`
}

type run struct {
	protocol Protocol
	stage    int
	timer    *time.Timer
	gen      uint64
}

// Runner drives scripted stage sequences, one independent run per session.
// Auto-advance uses a single cancellable timer per session, replaced on
// every stage entry so a late timer can never touch a newer run.
type Runner struct {
	mu        sync.Mutex
	protocols map[string]Protocol
	order     []string
	runs      map[string]*run
	gen       uint64

	onStage func(sessionID string, info StageInfo)
	log     *logrus.Logger
	metrics *observability.Metrics
}

func NewRunner(log *logrus.Logger, metrics *observability.Metrics) *Runner {
	r := &Runner{
		protocols: make(map[string]Protocol),
		runs:      make(map[string]*run),
		log:       log,
		metrics:   metrics,
	}
	for _, p := range builtinProtocols() {
		r.protocols[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r
}

// SetStageHook registers the callback fired on every stage entry, including
// stage 0 and timer-driven advances. Completion fires it with Complete=true.
func (r *Runner) SetStageHook(hook func(sessionID string, info StageInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStage = hook
}

// Names lists the known protocol trigger tokens.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Start begins the named protocol at stage 0, replacing any run already
// active for the session.
func (r *Runner) Start(sessionID, name string) (StageInfo, error) {
	r.mu.Lock()
	p, ok := r.protocols[name]
	if !ok {
		r.mu.Unlock()
		return StageInfo{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}

	if old := r.runs[sessionID]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	r.gen++
	rn := &run{protocol: p, stage: 0, gen: r.gen}
	r.runs[sessionID] = rn
	r.scheduleLocked(sessionID, rn)
	info := stageInfo(p, 0)
	hook := r.onStage
	r.mu.Unlock()

	r.metrics.ProtocolRuns.WithLabelValues(name, "started").Inc()
	r.log.WithFields(logrus.Fields{"session_id": sessionID, "protocol": name}).Info("test protocol started")
	if hook != nil {
		hook(sessionID, info)
	}
	return info, nil
}

// Advance moves the session's run to its next stage. Exhausting the stage
// list completes the protocol and releases the run state.
func (r *Runner) Advance(sessionID string) (StageInfo, error) {
	r.mu.Lock()
	rn := r.runs[sessionID]
	if rn == nil {
		r.mu.Unlock()
		return StageInfo{}, ErrNoActiveProtocol
	}
	info, hook := r.advanceLocked(sessionID, rn)
	r.mu.Unlock()

	if hook != nil {
		hook(sessionID, info)
	}
	return info, nil
}

func (r *Runner) advanceLocked(sessionID string, rn *run) (StageInfo, func(string, StageInfo)) {
	if rn.timer != nil {
		rn.timer.Stop()
		rn.timer = nil
	}
	rn.stage++
	if rn.stage >= len(rn.protocol.Stages) {
		delete(r.runs, sessionID)
		r.metrics.ProtocolRuns.WithLabelValues(rn.protocol.Name, "completed").Inc()
		info := StageInfo{
			Protocol:   rn.protocol.Name,
			Stage:      len(rn.protocol.Stages),
			StageCount: len(rn.protocol.Stages),
			Progress:   100,
			Complete:   true,
		}
		return info, r.onStage
	}
	r.scheduleLocked(sessionID, rn)
	return stageInfo(rn.protocol, rn.stage), r.onStage
}

// scheduleLocked arms the auto-advance timer for the current stage. Single
// stage protocols never auto-advance; they end when the caller advances or
// cancels.
func (r *Runner) scheduleLocked(sessionID string, rn *run) {
	if len(rn.protocol.Stages) < 2 {
		return
	}
	d := time.Duration(rn.protocol.Stages[rn.stage].DurationMS) * time.Millisecond
	if d <= 0 {
		d = 5 * time.Second
	}
	gen := rn.gen
	stage := rn.stage
	rn.timer = time.AfterFunc(d, func() {
		r.autoAdvance(sessionID, gen, stage)
	})
}

// autoAdvance fires from the timer; generation and stage guards drop stale
// callbacks from replaced or finished runs.
func (r *Runner) autoAdvance(sessionID string, gen uint64, stage int) {
	r.mu.Lock()
	rn := r.runs[sessionID]
	if rn == nil || rn.gen != gen || rn.stage != stage {
		r.mu.Unlock()
		return
	}
	info, hook := r.advanceLocked(sessionID, rn)
	r.mu.Unlock()

	if hook != nil {
		hook(sessionID, info)
	}
}

// Cancel stops the run and its timer, if any. Idempotent.
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn := r.runs[sessionID]
	if rn == nil {
		return
	}
	if rn.timer != nil {
		rn.timer.Stop()
	}
	delete(r.runs, sessionID)
	r.metrics.ProtocolRuns.WithLabelValues(rn.protocol.Name, "cancelled").Inc()
}

// GetStatus reports the session's run position without mutating it.
func (r *Runner) GetStatus(sessionID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn := r.runs[sessionID]
	if rn == nil {
		return Status{}
	}
	info := stageInfo(rn.protocol, rn.stage)
	return Status{
		Active:   true,
		Protocol: rn.protocol.Name,
		Stage:    rn.stage,
		Stages:   info.StageCount,
		Progress: info.Progress,
	}
}

// DetectTriggers scans a chat message for protocol trigger tokens,
// case-insensitively, normalizing runs of whitespace and commas. Multiple
// triggers come back in the order they occur in the message.
func (r *Runner) DetectTriggers(message string) []string {
	normalized := normalizeMessage(message)
	if normalized == "" {
		return nil
	}

	type hit struct {
		idx  int
		name string
	}
	var hits []hit
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	for _, name := range names {
		if idx := strings.Index(normalized, name); idx >= 0 {
			hits = append(hits, hit{idx: idx, name: name})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].idx < hits[j-1].idx; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}

func normalizeMessage(message string) string {
	lowered := strings.ToLower(message)
	lowered = strings.ReplaceAll(lowered, ",", " ")
	return strings.Join(strings.Fields(lowered), " ")
}

func stageInfo(p Protocol, stage int) StageInfo {
	s := p.Stages[stage]
	return StageInfo{
		Protocol:   p.Name,
		Stage:      stage,
		StageCount: len(p.Stages),
		Progress:   (stage + 1) * 100 / len(p.Stages),
		Video:      s.Video,
		AudioProv:  s.AudioProvider,
		Message:    s.Message,
		DurationMS: s.DurationMS,
	}
}
