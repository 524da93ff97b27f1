// Package v1 provides the scroll sync endpoints: the SSE and WebSocket push streams,
// the update endpoint and session inspection.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/stacklok/scroll-sync-server/internal/api/common"
	"github.com/stacklok/scroll-sync-server/internal/auth"
	"github.com/stacklok/scroll-sync-server/internal/scroll"
	"github.com/stacklok/scroll-sync-server/internal/session"
	"github.com/stacklok/scroll-sync-server/internal/stream"
)

// MaxUpdateBytes bounds the body of a posted update
const MaxUpdateBytes = 64 << 10

const clientIDParam = "clientID"

// ErrClientMismatch is returned when a WebSocket frame names a window other than its own
var ErrClientMismatch = errors.New("clientID does not match this connection")

// Routes handles HTTP requests for the scroll sync endpoints.
type Routes struct {
	coordinator    scroll.Coordinator
	sendBuffer     int
	keepAlive      time.Duration
	requestTimeout time.Duration
	upgrader       *websocket.Upgrader
}

// Option configures Routes
type Option func(*Routes)

// WithSendBuffer sets the number of events queued per connection
func WithSendBuffer(n int) Option {
	return func(rt *Routes) {
		rt.sendBuffer = n
	}
}

// WithKeepAliveInterval sets how often idle SSE streams receive a comment line
func WithKeepAliveInterval(d time.Duration) Option {
	return func(rt *Routes) {
		rt.keepAlive = d
	}
}

// WithRequestTimeout bounds the non-streaming endpoints. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(rt *Routes) {
		rt.requestTimeout = d
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given Origin values.
// An empty list accepts any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(rt *Routes) {
		if len(origins) == 0 {
			rt.upgrader = stream.NewUpgrader(nil)
			return
		}
		allowed := slices.Clone(origins)
		rt.upgrader = stream.NewUpgrader(func(origin string) bool {
			return slices.Contains(allowed, origin)
		})
	}
}

// NewRoutes creates a new Routes instance with the given coordinator.
func NewRoutes(coordinator scroll.Coordinator, opts ...Option) *Routes {
	rt := &Routes{
		coordinator: coordinator,
		sendBuffer:  stream.DefaultOutboxSize,
		keepAlive:   stream.DefaultKeepAliveInterval,
		upgrader:    stream.NewUpgrader(nil),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Router creates and configures the HTTP router for the scroll endpoints.
// The push streams are long-lived and are not subject to the request timeout.
func Router(coordinator scroll.Coordinator, opts ...Option) http.Handler {
	routes := NewRoutes(coordinator, opts...)

	r := chi.NewRouter()

	r.Get("/scroll", routes.openEventStream)
	r.Get("/scroll/ws", routes.openWebSocket)

	r.Group(func(r chi.Router) {
		if routes.requestTimeout > 0 {
			r.Use(middleware.Timeout(routes.requestTimeout))
		}
		r.Post("/scroll", routes.postUpdate)
		r.Get("/scroll/sessions", routes.listSessions)
	})

	return r
}

// SuccessResponse acknowledges an applied update
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SessionResponse describes one connected client window
type SessionResponse struct {
	ClientID    string    `json:"clientID"`
	IsMain      bool      `json:"isMain"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// SessionsResponse lists the caller's client windows in connection order
type SessionsResponse struct {
	Main     *string           `json:"main"`
	Sessions []SessionResponse `json:"sessions"`
}

// openEventStream handles GET /api/v1/scroll?clientID=<id>
func (routes *Routes) openEventStream(w http.ResponseWriter, r *http.Request) {
	info, outbox, ok := routes.connect(w, r)
	if !ok {
		return
	}
	defer routes.disconnect(r.Context(), info, outbox)

	err := stream.ServeSSE(r.Context(), w, outbox, routes.keepAlive)
	logStreamEnd("sse", info, err)
}

// openWebSocket handles GET /api/v1/scroll/ws?clientID=<id>
func (routes *Routes) openWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		common.WriteErrorResponse(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	// Registered before the upgrade so a duplicate is refused with a plain HTTP status
	info, outbox, ok := routes.connect(w, r)
	if !ok {
		return
	}
	defer routes.disconnect(r.Context(), info, outbox)

	conn, err := routes.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed",
			"user_id", info.UserID,
			"client_id", info.ClientID,
			"error", err)
		return
	}

	err = stream.ServeWebSocket(r.Context(), conn, outbox, routes.frameHandler(info))
	logStreamEnd("websocket", info, err)
}

// frameHandler applies inbound WebSocket frames like posted updates. A frame may only
// speak for the window that opened the socket.
func (routes *Routes) frameHandler(info session.Info) stream.MessageHandler {
	return func(ctx context.Context, msg []byte) []byte {
		var reply any = SuccessResponse{Success: true}
		if _, _, err := routes.apply(ctx, info.UserID, info.ClientID, msg); err != nil {
			reply = common.ErrorResponse{Error: err.Error()}
		}
		// Encoding these fixed shapes cannot fail.
		data, _ := json.Marshal(reply)
		return data
	}
}

// postUpdate handles POST /api/v1/scroll
func (routes *Routes) postUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUpdateBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			common.WriteErrorResponse(w, "update body too large", http.StatusRequestEntityTooLarge)
			return
		}
		common.WriteErrorResponse(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if _, status, err := routes.apply(r.Context(), id.UserID, "", body); err != nil {
		common.WriteErrorResponse(w, err.Error(), status)
		return
	}

	common.WriteJSONResponse(w, SuccessResponse{Success: true}, http.StatusOK)
}

// listSessions handles GET /api/v1/scroll/sessions
func (routes *Routes) listSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	infos := routes.coordinator.Sessions(id.UserID)
	resp := SessionsResponse{Sessions: make([]SessionResponse, 0, len(infos))}
	for _, info := range infos {
		if info.IsMain {
			resp.Main = &info.ClientID
		}
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ClientID:    info.ClientID,
			IsMain:      info.IsMain,
			ConnectedAt: info.ConnectedAt,
			LastSeen:    info.LastSeen,
		})
	}

	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// apply parses and applies one update, returning the HTTP status for a failure.
// A non-empty boundClientID rejects updates sent on behalf of another window.
func (routes *Routes) apply(
	ctx context.Context, userID, boundClientID string, body []byte,
) (scroll.Outcome, int, error) {
	update, err := scroll.ParseUpdate(body)
	if err != nil {
		return "", StatusForError(err), err
	}
	if boundClientID != "" && update.ClientID != boundClientID {
		err = fmt.Errorf("%w: %w", scroll.ErrInvalidUpdate, ErrClientMismatch)
		return "", StatusForError(err), err
	}

	outcome, err := routes.coordinator.ApplyUpdate(ctx, userID, update)
	if err != nil {
		return "", StatusForError(err), err
	}
	return outcome, http.StatusOK, nil
}

// connect validates the stream request and registers its session
func (routes *Routes) connect(w http.ResponseWriter, r *http.Request) (session.Info, *stream.Outbox, bool) {
	id, ok := identity(w, r)
	if !ok {
		return session.Info{}, nil, false
	}

	clientID, err := common.GetAndValidateQueryParam(r, clientIDParam)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return session.Info{}, nil, false
	}

	outbox := stream.NewOutbox(routes.sendBuffer)
	info, err := routes.coordinator.Connect(r.Context(), id.UserID, clientID, outbox)
	if err != nil {
		outbox.Close()
		common.WriteErrorResponse(w, err.Error(), StatusForError(err))
		return session.Info{}, nil, false
	}

	return info, outbox, true
}

// disconnect unregisters the session once its stream has ended
func (routes *Routes) disconnect(ctx context.Context, info session.Info, outbox *stream.Outbox) {
	outbox.Close()
	routes.coordinator.Disconnect(context.WithoutCancel(ctx), info)
}

// identity returns the caller resolved by the auth middleware
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		common.WriteErrorResponse(w, "unauthenticated", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	return id, true
}

// StatusForError maps sync errors onto HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, scroll.ErrInvalidUpdate), errors.Is(err, session.ErrMissingClientID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrDuplicateClient):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotRegistered), errors.Is(err, session.ErrNoActiveSessions):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func logStreamEnd(transport string, info session.Info, err error) {
	if err == nil {
		slog.Debug("Stream closed",
			"transport", transport,
			"user_id", info.UserID,
			"client_id", info.ClientID)
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, session.ErrTransportClosed) {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "Stream ended",
		"transport", transport,
		"user_id", info.UserID,
		"client_id", info.ClientID,
		"error", err)
}
