package avatar

import "github.com/ozgurtan/medavatar/internal/session"

// Effect is the side effect the caller must perform after a transition.
type Effect string

const (
	EffectNone Effect = "none"
	// EffectSpeak: synthesize the message and play it over the placeholder
	// speaking video.
	EffectSpeak Effect = "speak"
	// EffectEscalate: hand rendering to the live avatar provider.
	EffectEscalate Effect = "escalate"
)

// Snapshot is the slice of session state the transition function reads.
type Snapshot struct {
	Mode             session.Mode
	IsTyping         bool
	IsSpeaking       bool
	InteractionCount int
	ProviderReady    bool
	ProviderHealthy  bool
}

// Result is the full post-transition state plus the effect to run.
type Result struct {
	Mode             session.Mode
	VideoRef         string
	IsTyping         bool
	IsSpeaking       bool
	InteractionCount int
	// ClearAudioProvider asks the caller to drop the per-turn audio backend.
	ClearAudioProvider bool
	Effect             Effect
	Status             string
}

// Machine holds the transition rules. The zero threshold falls back to the
// product default of two placeholder turns before escalation.
type Machine struct {
	EscalationThreshold int
}

func NewMachine(escalationThreshold int) Machine {
	if escalationThreshold <= 0 {
		escalationThreshold = 2
	}
	return Machine{EscalationThreshold: escalationThreshold}
}

// Next computes the transition for one event. It is pure: no clocks, no
// I/O, no mutation of the input.
//
// provider_active is terminal. Events that would lower the mode are still
// accepted there but only touch the transient typing/speaking flags.
func (m Machine) Next(s Snapshot, ev Event) Result {
	out := Result{
		Mode:             s.Mode,
		IsTyping:         s.IsTyping,
		IsSpeaking:       s.IsSpeaking,
		InteractionCount: s.InteractionCount,
		Effect:           EffectNone,
	}
	out.VideoRef = videoForMode(s.Mode)

	switch ev.Type {
	case EventUserStartsTyping:
		out.IsTyping = true
		if s.Mode == session.ModeWaiting && !s.IsTyping {
			out.Mode = session.ModeSpeaking
			out.VideoRef = VideoSpeaking
			out.Status = "typing detected, placeholder engaged"
		}

	case EventUserStopsTyping:
		out.IsTyping = false
		if s.Mode == session.ModeSpeaking && !s.IsSpeaking {
			out.Mode = session.ModeWaiting
			out.VideoRef = VideoWaiting
			out.ClearAudioProvider = true
			out.Status = "typing stopped, back to waiting"
		}

	case EventUserSendsMessage:
		out.IsTyping = false
		out.InteractionCount = s.InteractionCount + 1
		if s.Mode == session.ModeProviderActive {
			out.Status = "message relayed to live avatar"
			break
		}
		if out.InteractionCount <= m.EscalationThreshold {
			out.Mode = session.ModeSpeaking
			out.VideoRef = VideoSpeaking
			out.Effect = EffectSpeak
			out.Status = "speaking with placeholder avatar"
		} else {
			out.Mode = session.ModeProviderActive
			out.VideoRef = ""
			out.IsSpeaking = false
			out.ClearAudioProvider = true
			out.Effect = EffectEscalate
			out.Status = "live avatar taking over"
		}

	case EventSpeechStarted:
		// Only meaningful mid placeholder speech; a stray start in any other
		// mode must not leave a stale flag that blocks the revert to waiting.
		if s.Mode == session.ModeSpeaking {
			out.IsSpeaking = true
		}
		out.Status = "speech playback started"

	case EventSpeechEnded:
		out.IsSpeaking = false
		if s.Mode == session.ModeSpeaking {
			out.Mode = session.ModeWaiting
			out.VideoRef = VideoWaiting
			out.ClearAudioProvider = true
			out.Status = "speech finished, back to waiting"
		}

	case EventInactivityCheck:
		// Inactivity never changes mode; eviction is the registry
		// sweep's job, and automatic fallback out of provider_active is
		// deliberately not allowed.
		out.Status = "inactivity check"
	}

	return out
}

func videoForMode(m session.Mode) string {
	switch m {
	case session.ModeSpeaking:
		return VideoSpeaking
	case session.ModeProviderActive:
		return ""
	default:
		return VideoWaiting
	}
}
