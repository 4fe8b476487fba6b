package session

import "time"

// Mode is the avatar's presentation state for a session.
type Mode string

const (
	// ModeWaiting loops the idle video; nothing is being spoken.
	ModeWaiting Mode = "waiting"
	// ModeSpeaking plays the placeholder speaking video synced to synthesized audio.
	ModeSpeaking Mode = "speaking"
	// ModeProviderActive hands rendering to the live avatar provider.
	// Once entered it is terminal for the session's lifetime.
	ModeProviderActive Mode = "provider_active"
)

// Session tracks one active avatar conversation. The ID is supplied by the
// caller (the web client's conversation id) and never changes.
type Session struct {
	ID               string    `json:"session_id"`
	Mode             Mode      `json:"mode"`
	IsTyping         bool      `json:"is_typing"`
	IsSpeaking       bool      `json:"is_speaking"`
	CurrentVideoRef  string    `json:"current_video_ref"`
	AudioProvider    string    `json:"audio_provider"`
	InteractionCount int       `json:"interaction_count"`
	ProviderReady    bool      `json:"provider_ready"`
	ProviderHealthy  bool      `json:"provider_healthy"`
	SpeechStartedAt  time.Time `json:"speech_started_at"`
	SpeechDurationMS int64     `json:"speech_duration_ms,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
}

// StateResponse is the HTTP shape for a session state query.
type StateResponse struct {
	SessionID        string    `json:"session_id"`
	Mode             Mode      `json:"mode"`
	VideoRef         string    `json:"video_ref"`
	AudioProvider    string    `json:"audio_provider,omitempty"`
	InteractionCount int       `json:"interaction_count"`
	ProviderReady    bool      `json:"provider_ready"`
	ProviderHealthy  bool      `json:"provider_healthy"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	IdleTTLMS        int64     `json:"idle_ttl_ms"`
}
