// Package websocket admits authenticated WebSocket connections and runs their
// read and write pumps. Admission is all-or-nothing: a connection either
// passes authentication and is registered for presence, or is refused with
// an HTTP error before the upgrade.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

// upgrader configures the WebSocket upgrade. CheckOrigin is set per handler.
// TLS is terminated by the reverse proxy in front of the service.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.ReadBufferSize,
	WriteBufferSize: constants.WriteBufferSize,
}

// refusal is the JSON body of a refused upgrade
type refusal struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler manages WebSocket upgrades and admitted connections
type Handler struct {
	authenticator  *auth.Authenticator
	broadcaster    *presence.Broadcaster
	logger         *zap.SugaredLogger
	maxMessageSize int64
	now            func() time.Time

	mu             sync.RWMutex
	allowedOrigins map[string]bool

	// active counts read pumps so shutdown can wait for releases
	active sync.WaitGroup
}

// NewHandler creates a new WebSocket handler
func NewHandler(authenticator *auth.Authenticator, broadcaster *presence.Broadcaster, logger *zap.SugaredLogger, maxMessageSize int64) *Handler {
	if maxMessageSize <= 0 {
		maxMessageSize = constants.DefaultMaxMessageSize
	}
	return &Handler{
		authenticator:  authenticator,
		broadcaster:    broadcaster,
		logger:         logger.Named("websocket"),
		maxMessageSize: maxMessageSize,
		now:            time.Now,
		allowedOrigins: make(map[string]bool),
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections.
// If no origins are set, all origins are allowed (development mode).
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool, len(origins))
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Infow("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// IsOpenOrigin returns true when no allowed origins are configured
func (h *Handler) IsOpenOrigin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allowedOrigins) == 0
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 || h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warnw("Origin not allowed", "origin", origin)
	return false
}

// ServeHTTP authenticates the upgrade request, upgrades it and registers the
// connection for presence. Refused requests get a JSON error and no upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticator.Authenticate(r.Context(), auth.HandshakeFromRequest(r))
	if err != nil {
		// The client left while its credential was checked; nobody to answer
		if r.Context().Err() != nil {
			h.logger.Debugw("Connection closed during authentication",
				"remote_addr", r.RemoteAddr)
			return
		}
		h.refuse(w, chaterrors.FromAuthError(err))
		return
	}

	if r.Context().Err() != nil {
		h.logger.Debugw("Connection closed during authentication",
			"user_id", identity.UserID)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		util.LogError(h.logger, "websocket", "upgrade connection", err,
			"user_id", identity.UserID)
		return
	}

	c := newConnection(conn, uuid.NewString(), identity, h.now())
	h.active.Add(1)
	if err := h.broadcaster.Connect(c); err != nil {
		h.active.Done()
		util.LogError(h.logger, "websocket", "register connection", err,
			"user_id", identity.UserID,
			"connection_id", c.ConnectionID())
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(constants.WriteWait))
		conn.Close()
		return
	}

	metrics.WebSocketConnections.Inc()
	h.logger.Infow("WebSocket connection established",
		"user_id", c.UserID(),
		"connection_id", c.ConnectionID())

	util.SafeGo(h.logger, "readPump", func() { c.readPump(h) })
	util.SafeGo(h.logger, "writePump", c.writePump)
}

// refuse answers a refused upgrade and asks the transport to close
func (h *Handler) refuse(w http.ResponseWriter, chatErr *chaterrors.ChatError) {
	metrics.AuthRefusals.WithLabelValues(string(chatErr.Code)).Inc()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Connection", "close")
	w.WriteHeader(chatErr.HTTPStatus())
	if err := json.NewEncoder(w).Encode(refusal{Error: chatErr.Message, Code: string(chatErr.Code)}); err != nil {
		util.LogWarn(h.logger, "websocket", "write refusal", err)
	}
}

// handleFrame answers a client frame. Clients may only ask for the current
// presence snapshot; chat messages are sent over HTTP.
func (h *Handler) handleFrame(c *Connection, raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		metrics.MessageErrors.Inc()
		h.logger.Debugw("Invalid frame",
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID(),
			"error", err)
		if errors.Is(err, event.ErrMissingEvent) {
			h.sendError(c, chaterrors.ErrMissingField("event"))
			return
		}
		h.sendError(c, chaterrors.ErrInvalidMessageFormat("Invalid message format", err))
		return
	}

	switch env.Event {
	case event.OnlineUsers:
		if !h.broadcaster.SendSnapshot(c) {
			h.logger.Debugw("Presence snapshot not enqueued", "connection_id", c.ConnectionID())
		}
	default:
		metrics.MessageErrors.Inc()
		h.sendError(c, chaterrors.ErrInvalidMessageFormat("Unsupported event: "+string(env.Event), nil))
	}
}

func (h *Handler) sendError(c *Connection, chatErr *chaterrors.ChatError) {
	frame, err := event.Encode(event.Error, chatErr.ToErrorInfo())
	if err != nil {
		util.LogError(h.logger, "websocket", "encode error frame", err)
		return
	}
	if !c.Send(frame) {
		h.logger.Debugw("Error frame not enqueued",
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID())
	}
}

// release unregisters c and stops its write pump. Runs once per connection.
func (h *Handler) release(c *Connection) {
	defer h.active.Done()

	if h.broadcaster.Disconnect(c) {
		metrics.WebSocketConnections.Dec()
	}
	c.CloseWith(websocket.CloseNormalClosure, "")

	h.logger.Infow("WebSocket connection closed",
		"user_id", c.UserID(),
		"connection_id", c.ConnectionID(),
		"duration", h.now().Sub(c.EstablishedAt()).String())
}

func (h *Handler) logClosed(c *Connection, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		h.logger.Warnw("WebSocket message size limit exceeded",
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID(),
			"limit", h.maxMessageSize)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		util.LogWarn(h.logger, "websocket", "read frame", err,
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID())
	default:
		h.logger.Debugw("WebSocket connection closing",
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID())
	}
}

// connections returns the admitted connections, optionally for one user only
func (h *Handler) connections(userID string) []*Connection {
	var peers []presence.Peer
	if userID == "" {
		peers = h.broadcaster.Registry().AllPeers()
	} else {
		peers = h.broadcaster.Registry().Peers(userID)
	}

	conns := make([]*Connection, 0, len(peers))
	for _, p := range peers {
		if c, ok := p.(*Connection); ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// DisconnectUser closes every connection of userID, e.g. after logout or
// account deletion. It returns the number of connections closed.
func (h *Handler) DisconnectUser(userID string) int {
	conns := h.connections(userID)
	for _, c := range conns {
		c.CloseWith(websocket.ClosePolicyViolation, "session ended")
	}
	if len(conns) > 0 {
		h.logger.Infow("Disconnected user",
			"user_id", userID,
			"connections", len(conns))
	}
	return len(conns)
}

// ShutdownWithContext closes all connections with CloseGoingAway and waits
// for them to be released, or for ctx to end.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	conns := h.connections("")
	h.logger.Infow("Shutting down WebSocket handler", "connections", len(conns))

	for _, c := range conns {
		c.CloseWith(websocket.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Infow("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warnw("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(h.connections("")))
		for _, c := range h.connections("") {
			c.conn.Close()
		}
		return ctx.Err()
	}
}
