package avatar

import (
	"sync"
	"time"

	"github.com/ozgurtan/medavatar/internal/session"
)

// StreamEvent is pushed to websocket subscribers whenever a session's
// presentation changes: a mode transition, synthesized audio, or a test
// protocol stage.
type StreamEvent struct {
	Type             string       `json:"type"`
	SessionID        string       `json:"session_id"`
	TurnID           string       `json:"turn_id,omitempty"`
	Mode             session.Mode `json:"mode,omitempty"`
	VideoRef         string       `json:"video_ref"`
	AudioBase64      string       `json:"audio_base64,omitempty"`
	AudioContentType string       `json:"audio_content_type,omitempty"`
	AudioProvider    string       `json:"audio_provider,omitempty"`
	Protocol         string       `json:"protocol,omitempty"`
	Stage            int          `json:"stage,omitempty"`
	Progress         int          `json:"progress,omitempty"`
	Status           string       `json:"status,omitempty"`
	TSMs             int64        `json:"ts_ms"`
}

const (
	StreamTurn          = "turn"
	StreamProtocolStage = "protocol_stage"
)

// Broadcaster fans StreamEvents out to per-session subscribers. Publish is
// non-blocking: a slow websocket drops events instead of stalling event
// processing for other sessions.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan StreamEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan StreamEvent]struct{})}
}

// Subscribe returns a buffered event channel for the session and a cancel
// function that must be called when the consumer goes away.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, 64)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan StreamEvent]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(ev StreamEvent) {
	if ev.TSMs == 0 {
		ev.TSMs = time.Now().UnixMilli()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is saturated; drop rather than block.
		}
	}
}
