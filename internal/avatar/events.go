package avatar

// EventType enumerates the inbound user/system events the state machine
// understands.
type EventType string

const (
	EventUserStartsTyping EventType = "user_starts_typing"
	EventUserStopsTyping  EventType = "user_stops_typing"
	EventUserSendsMessage EventType = "user_sends_message"
	EventSpeechStarted    EventType = "speech_started"
	EventSpeechEnded      EventType = "speech_ended"
	EventInactivityCheck  EventType = "inactivity_check"
)

// Event is one inbound occurrence for a session.
type Event struct {
	Type EventType `json:"type"`
	// Message carries the user's text for user_sends_message.
	Message string `json:"message,omitempty"`
	// Language optionally overrides lexical language detection.
	Language string `json:"language,omitempty"`
	// EstimatedDurationMS accompanies speech_started.
	EstimatedDurationMS int64 `json:"estimated_duration_ms,omitempty"`
}

// Video asset refs served to the web client. provider_active carries no
// asset: the live provider supplies its own stream.
const (
	VideoWaiting  = "/assets/avatar/waiting-loop.mp4"
	VideoSpeaking = "/assets/avatar/speaking-placeholder.mp4"
)
