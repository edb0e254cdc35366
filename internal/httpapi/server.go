package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/codepair/internal/auth"
	"github.com/antoniostano/codepair/internal/config"
	"github.com/antoniostano/codepair/internal/observability"
	"github.com/antoniostano/codepair/internal/protocol"
	"github.com/antoniostano/codepair/internal/room"
	"github.com/antoniostano/codepair/internal/session"
)

// Modes describes the optional collaborators wired at startup, surfaced
// through the health endpoints.
type Modes struct {
	Storage   string
	Backplane string
}

type Server struct {
	cfg      config.Config
	rooms    *room.Manager
	verifier *auth.Verifier
	metrics  *observability.Metrics
	modes    Modes
	upgrader websocket.Upgrader
}

func New(cfg config.Config, rooms *room.Manager, verifier *auth.Verifier, metrics *observability.Metrics, modes Modes) *Server {
	return &Server{
		cfg:      cfg,
		rooms:    rooms,
		verifier: verifier,
		metrics:  metrics,
		modes:    modes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other sites cannot drive a user's
				// editing session with their cookies.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/mine", s.handleListMine)
	r.Get("/v1/sessions/public", s.handleListPublic)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Get("/v1/sessions/{token}", s.handleGetSession)
	r.Post("/v1/sessions/{token}/join", s.handleJoinSession)
	r.Post("/v1/sessions/{token}/leave", s.handleLeaveSession)
	r.Patch("/v1/sessions/{token}/settings", s.handleUpdateSettings)
	r.Post("/v1/sessions/{token}/chat", s.handlePostChat)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"storage":   s.modes.Storage,
		"backplane": s.modes.Backplane,
	})
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ident, err := s.verifier.FromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return auth.Identity{}, false
	}
	return ident, true
}

func (s *Server) roomFor(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		respondError(w, http.StatusBadRequest, "invalid_token", "missing session token")
		return nil, false
	}
	rm, err := s.rooms.Get(token)
	if err != nil {
		respondSessionError(w, err)
		return nil, false
	}
	return rm, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	var params session.CreateParams
	if err := decodeJSON(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.rooms.Create(ident.UserID, ident.Username, params)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}
	rm, ok := s.roomFor(w, r)
	if !ok {
		return
	}
	snap, err := rm.Snapshot()
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	rm, ok := s.roomFor(w, r)
	if !ok {
		return
	}
	snap, err := rm.Join(ident.UserID, ident.Username)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	rm, ok := s.roomFor(w, r)
	if !ok {
		return
	}
	if err := rm.Leave(ident.UserID); err != nil {
		respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	sessions := s.rooms.ListMine(ident.UserID)
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleListPublic(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	sessions, total := s.rooms.ListPublic(page, limit)
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	rm, ok := s.roomFor(w, r)
	if !ok {
		return
	}
	var patch session.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	settings, err := rm.UpdateSettings(ident.UserID, patch)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request) {
	ident, ok := s.identity(w, r)
	if !ok {
		return
	}
	rm, ok := s.roomFor(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}
	msg, err := rm.AppendChat(ident.UserID, req.Message)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	ident, err := s.verifier.FromRequest(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ActiveConnections.Inc()
	defer s.metrics.ActiveConnections.Dec()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Single writer: every frame for this connection flows through
	// outbound, including events forwarded from the bound room.
	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	c := wsConn{server: s, ident: ident, ctx: ctx, outbound: outbound}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		if !c.handleFrame(data) {
			break
		}
	}

	c.unbind(true)
	cancel()
	<-writerDone
}

// wsConn is the per-connection gateway state: identity plus at most one
// bound room.
type wsConn struct {
	server   *Server
	ident    auth.Identity
	ctx      context.Context
	outbound chan any

	room *room.Room
	sub  *room.Subscriber
	left bool
}

// handleFrame dispatches one inbound frame. It returns false when the
// connection should close.
func (c *wsConn) handleFrame(data []byte) bool {
	parsed, err := protocol.ParseClientMessage(data)
	if err != nil {
		c.sendError("invalid_message", err.Error())
		return true
	}
	if t, ok := typeOfInbound(parsed); ok {
		c.server.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
	}

	if join, ok := parsed.(protocol.JoinRoom); ok {
		c.handleJoin(join)
		return true
	}
	if c.room == nil {
		c.sendError("not_joined", "join-room must be sent first")
		return true
	}

	switch m := parsed.(type) {
	case protocol.CodeChange:
		if err := c.room.ApplyCode(c.ident.UserID, m.Code); err != nil {
			c.sendMutationError(err)
		}
	case protocol.CursorPosition:
		c.room.UpdateCursor(c.ident.UserID, m.Position)
	case protocol.SelectionChange:
		c.room.UpdateSelection(c.ident.UserID, m.Selection)
	case protocol.LanguageChange:
		if err := c.room.SetLanguage(c.ident.UserID, m.Language); err != nil {
			c.sendMutationError(err)
		}
	case protocol.Chat:
		if _, err := c.room.AppendChat(c.ident.UserID, m.Message); err != nil {
			c.sendMutationError(err)
		}
	case protocol.LeaveRoom:
		if err := c.room.Leave(c.ident.UserID); err != nil {
			c.sendMutationError(err)
			return true
		}
		c.left = true
		c.unbind(false)
	}
	return true
}

func (c *wsConn) handleJoin(join protocol.JoinRoom) {
	rm, err := c.server.rooms.Get(strings.TrimSpace(join.Token))
	if err != nil {
		c.sendMutationError(err)
		return
	}
	// Re-binding detaches from the prior room first.
	c.unbind(true)
	sub := room.NewSubscriber(c.ident.UserID, c.ident.Username, 0)
	snap, err := rm.Attach(sub)
	if err != nil {
		c.sendMutationError(err)
		return
	}
	c.room = rm
	c.sub = sub
	c.left = false
	c.send(protocol.SessionState{Type: protocol.TypeSessionState, Session: snap})

	// Forward room events until the room closes this subscriber.
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case <-c.ctx.Done():
					return
				case c.outbound <- ev:
				}
			}
		}
	}()
}

// unbind releases the room binding. disconnected distinguishes a
// transport drop (seat kept, marked inactive) from an explicit leave.
func (c *wsConn) unbind(disconnected bool) {
	if c.room == nil {
		return
	}
	if disconnected && !c.left {
		c.room.Detach(c.sub.ID())
	}
	c.room = nil
	c.sub = nil
}

func (c *wsConn) send(msg any) {
	select {
	case c.outbound <- msg:
	default:
		// Keep websocket writes single-threaded; drop if the outbound
		// queue is saturated.
	}
}

// sendError delivers an error frame to this connection only. Errors are
// never broadcast to other participants.
func (c *wsConn) sendError(code, detail string) {
	c.send(protocol.Error{Type: protocol.TypeError, Code: code, Message: detail})
}

func (c *wsConn) sendMutationError(err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.sendError("session_not_found", err.Error())
	case errors.Is(err, session.ErrFull):
		c.sendError("session_full", err.Error())
	case errors.Is(err, session.ErrUnauthorized):
		c.sendError("forbidden", err.Error())
	default:
		c.sendError("internal", err.Error())
	}
}

func typeOfInbound(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.JoinRoom:
		return m.Type, true
	case protocol.CodeChange:
		return m.Type, true
	case protocol.CursorPosition:
		return m.Type, true
	case protocol.SelectionChange:
		return m.Type, true
	case protocol.LanguageChange:
		return m.Type, true
	case protocol.Chat:
		return m.Type, true
	case protocol.LeaveRoom:
		return m.Type, true
	default:
		return "", false
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

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrFull):
		respondError(w, http.StatusConflict, "session_full", err.Error())
	case errors.Is(err, session.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, session.ErrInvalidParameters):
		respondError(w, http.StatusBadRequest, "invalid_parameters", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
