// Package api is the HTTP JSON surface over the engine: pure transport, no
// business logic. UI and server-action collaborators consume it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"rollcall/internal/geofence"
	"rollcall/internal/messaging"
	"rollcall/internal/notify"
	"rollcall/internal/session"
	"rollcall/pkg/types"
)

// HealthChecker reports backing-store connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Historian serves archived session history.
type Historian interface {
	SessionHistory(ctx context.Context, groupID string) ([]*types.Session, error)
}

// Server routes HTTP requests to the engine components.
type Server struct {
	sessions *session.Manager
	notifier *notify.Fanout
	channel  *messaging.Channel
	health   HealthChecker
	history  Historian
	router   *mux.Router
}

// NewServer wires the routes. health and history may be nil when the
// deployment runs without an archive.
func NewServer(sessions *session.Manager, notifier *notify.Fanout, channel *messaging.Channel, health HealthChecker, history Historian) *Server {
	s := &Server{
		sessions: sessions,
		notifier: notifier,
		channel:  channel,
		health:   health,
		history:  history,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(jsonMiddleware)

	r.HandleFunc("/api/sessions", s.startSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/live", s.getLiveness).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/sign-in", s.signIn).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/status", s.toggleStatus).Methods(http.MethodPut)
	r.HandleFunc("/api/sessions/{id}/duration", s.updateDuration).Methods(http.MethodPut)
	r.HandleFunc("/api/sessions/{id}/messages", s.listSessionMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/owners/{id}/live-session", s.liveSessionForOwner).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/direct", s.listDirectMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{id}/notifications", s.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/{id}/read", s.markRead).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.sessionHistory).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type startSessionRequest struct {
	Mode        string             `json:"mode"`
	OwnerID     string             `json:"owner_id"`
	GroupID     string             `json:"group_id"`
	Topic       string             `json:"topic"`
	Venue       string             `json:"venue"`
	Roster      []string           `json:"roster"`
	DurationMin float64            `json:"duration_min"`
	Anchor      *types.Coordinates `json:"anchor"`
	RadiusM     float64            `json:"radius_m"`
	NotifyOwner bool               `json:"notify_owner"`
}

type signInRequest struct {
	UserID   string             `json:"user_id"`
	Position *types.Coordinates `json:"position"`
}

type toggleRequest struct {
	Active bool `json:"active"`
}

type durationRequest struct {
	DurationMin float64 `json:"duration_min"`
}

type sendMessageRequest struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	created, err := s.sessions.StartSession(r.Context(), session.StartParams{
		Mode:        req.Mode,
		OwnerID:     req.OwnerID,
		GroupID:     req.GroupID,
		Topic:       req.Topic,
		Venue:       req.Venue,
		Roster:      req.Roster,
		DurationMin: req.DurationMin,
		Anchor:      req.Anchor,
		RadiusM:     req.RadiusM,
		NotifyOwner: req.NotifyOwner,
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []*types.Session
	if groupID := r.URL.Query().Get("group"); groupID != "" {
		sessions = s.sessions.ListGroupSessions(groupID)
	} else {
		sessions = s.sessions.ListSessions()
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	found, err := s.sessions.GetSession(mux.Vars(r)["id"])
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(found)
}

func (s *Server) getLiveness(w http.ResponseWriter, r *http.Request) {
	live, err := s.sessions.IsLive(mux.Vars(r)["id"])
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"live": live})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.sessions.SignIn(r.Context(), mux.Vars(r)["id"], req.UserID, req.Position); err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "signed_in"})
}

func (s *Server) toggleStatus(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.sessions.ToggleStatus(r.Context(), mux.Vars(r)["id"], req.Active); err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"active": req.Active})
}

func (s *Server) updateDuration(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.sessions.UpdateDuration(r.Context(), mux.Vars(r)["id"], req.DurationMin); err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]float64{"duration_min": req.DurationMin})
}

func (s *Server) liveSessionForOwner(w http.ResponseWriter, r *http.Request) {
	found, err := s.sessions.LiveSessionForOwner(mux.Vars(r)["id"])
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(found)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	message, err := s.channel.Send(req.Sender, req.Receiver, req.SessionID, req.Content)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(message)
}

func (s *Server) listSessionMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.channel.ListForSession(mux.Vars(r)["id"])
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": messages})
}

func (s *Server) listDirectMessages(w http.ResponseWriter, r *http.Request) {
	userA := r.URL.Query().Get("a")
	userB := r.URL.Query().Get("b")
	if userA == "" || userB == "" {
		s.sendError(w, http.StatusBadRequest, "Query parameters a and b are required")
		return
	}
	messages := s.channel.ListDirect(userA, userB)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": messages})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications := s.notifier.ListForUser(mux.Vars(r)["id"])
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"notifications": notifications})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	// Idempotent by contract; unknown IDs are not an error.
	s.notifier.MarkRead(mux.Vars(r)["id"])
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "read"})
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusNotImplemented, "Archive is not configured")
		return
	}
	sessions, err := s.history.SessionHistory(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to read session history")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": sessions})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
	})
}

// sendEngineError maps engine sentinels onto HTTP status codes:
// not-found 404, invalid input 400, conflicts 409, admission refusals 403.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoLiveSession),
		errors.Is(err, messaging.ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrAlreadySignedIn),
		errors.Is(err, session.ErrDurationTooShort),
		errors.Is(err, session.ErrOwnerSessionLive):
		code = http.StatusConflict
	case errors.Is(err, session.ErrOutOfRange),
		errors.Is(err, session.ErrSessionInactive),
		errors.Is(err, session.ErrNotInRoster):
		code = http.StatusForbidden
	case errors.Is(err, session.ErrInvalidDuration),
		errors.Is(err, session.ErrMissingLocation),
		errors.Is(err, messaging.ErrEmptyContent),
		errors.Is(err, messaging.ErrInvalidSender),
		errors.Is(err, messaging.ErrInvalidReceiver),
		errors.Is(err, geofence.ErrInvalidCoordinate),
		errors.Is(err, geofence.ErrInvalidRadius):
		code = http.StatusBadRequest
	default:
		// Remaining engine failures are caller-input validation.
		code = http.StatusBadRequest
	}
	s.sendError(w, code, err.Error())
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
