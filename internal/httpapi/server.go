package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ozgurtan/medavatar/internal/avatar"
	"github.com/ozgurtan/medavatar/internal/config"
	"github.com/ozgurtan/medavatar/internal/observability"
	"github.com/ozgurtan/medavatar/internal/session"
	"github.com/ozgurtan/medavatar/internal/testprotocol"
)

type Server struct {
	cfg          config.Config
	orchestrator *avatar.Orchestrator
	metrics      *observability.Metrics
	log          *logrus.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator *avatar.Orchestrator, metrics *observability.Metrics, log *logrus.Logger) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		metrics:      metrics,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; other sites must not drive a patient's
				// avatar session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/avatar/session/{id}/event", s.handleEvent)
	r.Get("/v1/avatar/session/{id}", s.handleGetSession)
	r.Delete("/v1/avatar/session/{id}", s.handleRemoveSession)

	r.Post("/v1/avatar/session/{id}/protocol", s.handleStartProtocol)
	r.Post("/v1/avatar/session/{id}/protocol/advance", s.handleAdvanceProtocol)
	r.Get("/v1/avatar/session/{id}/protocol", s.handleProtocolStatus)

	r.Get("/v1/avatar/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/speech", s.handleSpeechPerf)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	var ev avatar.Event
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !validEventType(ev.Type) {
		respondError(w, http.StatusBadRequest, "invalid_event_type", "unknown event type "+string(ev.Type))
		return
	}

	out, err := s.orchestrator.HandleEvent(r.Context(), id, ev)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.orchestrator.SessionState(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session.StateResponse{
		SessionID:        sess.ID,
		Mode:             sess.Mode,
		VideoRef:         sess.CurrentVideoRef,
		AudioProvider:    sess.AudioProvider,
		InteractionCount: sess.InteractionCount,
		ProviderReady:    sess.ProviderReady,
		ProviderHealthy:  sess.ProviderHealthy,
		LastActivityAt:   sess.LastActivityAt,
		IdleTTLMS:        s.cfg.SessionIdleTimeout.Milliseconds(),
	})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.RemoveSession(chi.URLParam(r, "id"))
	respondJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

type startProtocolRequest struct {
	Protocol string `json:"protocol"`
}

func (s *Server) handleStartProtocol(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req startProtocolRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	info, err := s.orchestrator.StartProtocol(id, strings.TrimSpace(req.Protocol))
	if err != nil {
		if errors.Is(err, testprotocol.ErrUnknownProtocol) {
			respondError(w, http.StatusBadRequest, "unknown_protocol", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "protocol_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleAdvanceProtocol(w http.ResponseWriter, r *http.Request) {
	info, err := s.orchestrator.AdvanceProtocol(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, testprotocol.ErrNoActiveProtocol) {
			respondError(w, http.StatusConflict, "no_active_protocol", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "protocol_advance_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleProtocolStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orchestrator.ProtocolStatus(chi.URLParam(r, "id")))
}

func (s *Server) handleSpeechPerf(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SpeechLatencySnapshot())
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	events, cancel := s.orchestrator.Subscribe(sessionID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Outbound-only stream: the read loop just keeps the connection
		// honest and notices the peer going away.
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			s.metrics.WSMessages.WithLabelValues("outbound", ev.Type).Inc()
		}
	}
}

func validEventType(t avatar.EventType) bool {
	switch t {
	case avatar.EventUserStartsTyping, avatar.EventUserStopsTyping,
		avatar.EventUserSendsMessage, avatar.EventSpeechStarted,
		avatar.EventSpeechEnded, avatar.EventInactivityCheck:
		return true
	default:
		return false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
