package avatar

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/observability"
	"github.com/ozgurtan/medavatar/internal/session"
	"github.com/ozgurtan/medavatar/internal/speech"
	"github.com/ozgurtan/medavatar/internal/testprotocol"
)

// Synthesizer is the slice of the speech dispatcher the orchestrator needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, preferred string) (speech.Synthesis, error)
}

// ProviderMonitor is the slice of the readiness monitor the orchestrator
// needs.
type ProviderMonitor interface {
	Prepare(sessionID string)
	Forget(sessionID string)
}

// TurnResult is what the HTTP layer returns to the web client after one
// event: the mode to render, the asset to show, and optionally audio.
type TurnResult struct {
	TurnID           string       `json:"turn_id"`
	SessionID        string       `json:"session_id"`
	Mode             session.Mode `json:"mode"`
	VideoRef         string       `json:"video_ref"`
	AudioBase64      string       `json:"audio_base64,omitempty"`
	AudioContentType string       `json:"audio_content_type,omitempty"`
	AudioProvider    string       `json:"audio_provider,omitempty"`
	Language         string       `json:"language,omitempty"`
	InteractionCount int          `json:"interaction_count"`
	Triggered        []string     `json:"triggered_protocols,omitempty"`
	SpeechFailed     bool         `json:"speech_failed,omitempty"`
	Status           string       `json:"status"`
}

// Orchestrator glues the registry, state machine, speech dispatcher,
// readiness monitor and test protocol runner together. One HandleEvent call
// per inbound event; callers serialize events for the same session id.
type Orchestrator struct {
	registry        *session.Registry
	machine         Machine
	speech          Synthesizer
	monitor         ProviderMonitor
	runner          *testprotocol.Runner
	broadcast       *Broadcaster
	defaultLanguage string
	log             *logrus.Logger
	metrics         *observability.Metrics
}

func NewOrchestrator(
	registry *session.Registry,
	machine Machine,
	synthesizer Synthesizer,
	monitor ProviderMonitor,
	runner *testprotocol.Runner,
	broadcast *Broadcaster,
	defaultLanguage string,
	log *logrus.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	o := &Orchestrator{
		registry:        registry,
		machine:         machine,
		speech:          synthesizer,
		monitor:         monitor,
		runner:          runner,
		broadcast:       broadcast,
		defaultLanguage: defaultLanguage,
		log:             log,
		metrics:         metrics,
	}
	runner.SetStageHook(o.onProtocolStage)
	registry.SetRemoveHook(o.onSessionRemoved)
	return o
}

// HandleEvent processes one inbound event for a session, lazily creating
// the session on first sight.
func (o *Orchestrator) HandleEvent(ctx context.Context, sessionID string, ev Event) (TurnResult, error) {
	_, err := o.registry.Get(sessionID)
	created := errors.Is(err, session.ErrNotFound)

	var snap Snapshot
	var result Result
	updated := o.registry.Update(sessionID, func(s *session.Session) {
		snap = Snapshot{
			Mode:             s.Mode,
			IsTyping:         s.IsTyping,
			IsSpeaking:       s.IsSpeaking,
			InteractionCount: s.InteractionCount,
			ProviderReady:    s.ProviderReady,
			ProviderHealthy:  s.ProviderHealthy,
		}
		result = o.machine.Next(snap, ev)

		s.Mode = result.Mode
		s.IsTyping = result.IsTyping
		s.IsSpeaking = result.IsSpeaking
		s.InteractionCount = result.InteractionCount
		s.CurrentVideoRef = result.VideoRef
		if result.ClearAudioProvider {
			s.AudioProvider = ""
		}
		if ev.Type == EventSpeechStarted && result.Mode == session.ModeSpeaking {
			s.SpeechStartedAt = time.Now().UTC()
			s.SpeechDurationMS = ev.EstimatedDurationMS
		}
	})

	if created {
		o.metrics.SessionEvents.WithLabelValues("created").Inc()
		o.metrics.ActiveSessions.Set(float64(o.registry.Len()))
		// Warm the live provider up right away so escalation a few turns
		// later finds it ready.
		o.monitor.Prepare(sessionID)
	}
	o.metrics.SessionEvents.WithLabelValues(string(ev.Type)).Inc()
	if result.Mode != snap.Mode {
		o.metrics.ModeTransitions.WithLabelValues(string(snap.Mode), string(result.Mode)).Inc()
	}

	out := TurnResult{
		TurnID:           uuid.NewString(),
		SessionID:        sessionID,
		Mode:             result.Mode,
		VideoRef:         result.VideoRef,
		InteractionCount: result.InteractionCount,
		Status:           result.Status,
	}

	switch result.Effect {
	case EffectSpeak:
		o.speakTurn(ctx, sessionID, ev, &out)
	case EffectEscalate:
		// Idempotent; a hint only. If warmup never finished the provider
		// joins late and the client keeps the last frame meanwhile.
		o.monitor.Prepare(sessionID)
		if !updated.ProviderReady || !updated.ProviderHealthy {
			// Provider unavailable is a state, not an error: the turn still
			// escalates, but the dispatcher speaks it so the user is not
			// left with dead air until the live stream joins.
			o.log.WithField("session_id", sessionID).Warn("escalating with provider not confirmed ready, speaking via dispatcher")
			o.speakTurn(ctx, sessionID, ev, &out)
		}
	}

	if ev.Type == EventUserSendsMessage && ev.Message != "" {
		for _, name := range o.runner.DetectTriggers(ev.Message) {
			if _, err := o.runner.Start(sessionID, name); err != nil {
				o.log.WithError(err).WithField("protocol", name).Warn("trigger start failed")
				continue
			}
			out.Triggered = append(out.Triggered, name)
		}
	}

	o.broadcast.Publish(StreamEvent{
		Type:             StreamTurn,
		SessionID:        sessionID,
		TurnID:           out.TurnID,
		Mode:             out.Mode,
		VideoRef:         out.VideoRef,
		AudioBase64:      out.AudioBase64,
		AudioContentType: out.AudioContentType,
		AudioProvider:    out.AudioProvider,
		Status:           out.Status,
	})

	return out, nil
}

// speakTurn synthesizes the message for a placeholder-speaking turn. Total
// synthesis failure degrades the turn to text-only instead of failing it.
func (o *Orchestrator) speakTurn(ctx context.Context, sessionID string, ev Event, out *TurnResult) {
	language := ev.Language
	if language == "" {
		language = speech.DetectLanguage(ev.Message, o.defaultLanguage)
	}
	out.Language = language

	started := time.Now()
	synth, err := o.speech.Synthesize(ctx, ev.Message, language, "")
	if err != nil {
		o.metrics.ObserveSynthesis("dispatcher", time.Since(started), false)
		o.metrics.ObserveSpeechIndicator("speech_failed_text_only")
		o.log.WithError(err).WithField("session_id", sessionID).Error("speech synthesis failed, degrading to text-only")
		out.SpeechFailed = true
		out.Status = "speech unavailable, showing text response"
		return
	}
	o.metrics.ObserveSynthesis(synth.Provider, time.Since(started), true)
	if synth.Provider == "cache" {
		o.metrics.ObserveSpeechIndicator("cache_hit")
	}

	out.AudioBase64 = base64.StdEncoding.EncodeToString(synth.Audio)
	out.AudioContentType = synth.ContentType
	out.AudioProvider = synth.Provider

	o.registry.Update(sessionID, func(s *session.Session) {
		s.AudioProvider = synth.Provider
	})
}

// onProtocolStage applies a test protocol stage to the session's
// presentation and streams it to subscribers, speaking the stage line with
// the stage's preferred backend.
func (o *Orchestrator) onProtocolStage(sessionID string, info testprotocol.StageInfo) {
	if info.Complete {
		o.broadcast.Publish(StreamEvent{
			Type:      StreamProtocolStage,
			SessionID: sessionID,
			Protocol:  info.Protocol,
			Stage:     info.Stage,
			Progress:  info.Progress,
			Status:    "protocol complete",
		})
		return
	}

	if _, err := o.registry.UpdateExisting(sessionID, func(s *session.Session) {
		s.CurrentVideoRef = info.Video
		s.AudioProvider = info.AudioProv
	}); err != nil {
		// Session removed while the stage timer was in flight; drop the run
		// instead of resurrecting the id.
		o.runner.Cancel(sessionID)
		return
	}

	ev := StreamEvent{
		Type:          StreamProtocolStage,
		SessionID:     sessionID,
		VideoRef:      info.Video,
		AudioProvider: info.AudioProv,
		Protocol:      info.Protocol,
		Stage:         info.Stage,
		Progress:      info.Progress,
		Status:        info.Message,
	}

	if info.Message != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		started := time.Now()
		synth, err := o.speech.Synthesize(ctx, info.Message, speech.DetectLanguage(info.Message, o.defaultLanguage), info.AudioProv)
		if err != nil {
			o.metrics.ObserveSynthesis(info.AudioProv, time.Since(started), false)
			o.log.WithError(err).WithFields(logrus.Fields{
				"session_id": sessionID,
				"protocol":   info.Protocol,
				"stage":      info.Stage,
			}).Warn("protocol stage synthesis failed")
		} else {
			o.metrics.ObserveSynthesis(synth.Provider, time.Since(started), true)
			ev.AudioBase64 = base64.StdEncoding.EncodeToString(synth.Audio)
			ev.AudioContentType = synth.ContentType
			ev.AudioProvider = synth.Provider
		}
	}

	o.broadcast.Publish(ev)
}

// onSessionRemoved releases everything tied to an evicted or removed
// session: protocol timers and provider tracking.
func (o *Orchestrator) onSessionRemoved(sessionID string) {
	o.runner.Cancel(sessionID)
	o.monitor.Forget(sessionID)
	o.metrics.SessionEvents.WithLabelValues("removed").Inc()
	o.metrics.ActiveSessions.Set(float64(o.registry.Len()))
}

// SessionState is the read-only session view for the HTTP layer.
func (o *Orchestrator) SessionState(sessionID string) (*session.Session, error) {
	return o.registry.Get(sessionID)
}

// RemoveSession tears the session down. Idempotent.
func (o *Orchestrator) RemoveSession(sessionID string) {
	o.registry.Remove(sessionID)
}

// StartProtocol begins a named test protocol for the session, creating the
// session lazily like any other inbound event.
func (o *Orchestrator) StartProtocol(sessionID, name string) (testprotocol.StageInfo, error) {
	o.registry.GetOrCreate(sessionID)
	return o.runner.Start(sessionID, name)
}

func (o *Orchestrator) AdvanceProtocol(sessionID string) (testprotocol.StageInfo, error) {
	return o.runner.Advance(sessionID)
}

func (o *Orchestrator) ProtocolStatus(sessionID string) testprotocol.Status {
	return o.runner.GetStatus(sessionID)
}

// Subscribe exposes the stream for the websocket handler.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan StreamEvent, func()) {
	return o.broadcast.Subscribe(sessionID)
}
