// Package client keeps a WebSocket connection to the livechat server alive on
// behalf of a logged-in user. It owns the connection state machine, retries
// dropped connections with a capped exponential backoff and re-installs
// event handlers on every new connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Manager
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotAuthenticated is returned by Connect when the session has no credential
	ErrNotAuthenticated = errors.New("no authenticated session")
	// ErrNotConnected is returned when a frame is sent without a live connection
	ErrNotConnected = errors.New("not connected")
)

// Session reports the logged-in user's credential
type Session interface {
	Credential() (token, userID string, ok bool)
}

// SessionFunc adapts a function to Session
type SessionFunc func() (token, userID string, ok bool)

// Credential calls f
func (f SessionFunc) Credential() (string, string, bool) {
	return f()
}

// Conn is the part of a WebSocket connection the manager uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection. resp is returned when the server answered the
// handshake with an HTTP error.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error)
}

type websocketDialer struct {
	dialer *websocket.Dialer
}

func (d websocketDialer) Dial(ctx context.Context, u string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// RefusalError is a handshake the server refused with an HTTP error
type RefusalError struct {
	Status  int
	Code    string
	Message string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("handshake refused: %d %s: %s", e.Status, e.Code, e.Message)
}

// Permanent reports whether retrying with the same credential is pointless
func (e *RefusalError) Permanent() bool {
	return chaterrors.IsPermanentRefusal(e.Code)
}

// Handler receives the data of one server event
type Handler func(data json.RawMessage)

// Option configures a Manager
type Option func(*Manager)

// WithDialer replaces the gorilla/websocket dialer
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithSleep replaces the backoff wait. sleep must return early with an
// error when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithStateHook is called after every state transition
func WithStateHook(hook func(from, to State)) Option {
	return func(m *Manager) { m.onState = hook }
}

// Delay returns the wait before retry number attempt (1-based):
// ReconnectDelay doubled per attempt, capped at ReconnectDelayMax.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := constants.ReconnectDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= constants.ReconnectDelayMax {
			return constants.ReconnectDelayMax
		}
	}
	return d
}

// Manager maintains one logical connection for a session
type Manager struct {
	url         string
	session     Session
	dialer      Dialer
	sleep       func(ctx context.Context, d time.Duration) error
	onState     func(from, to State)
	maxAttempts int
	logger      *zap.SugaredLogger

	mu          sync.Mutex
	state       State
	conn        Conn
	cancel      context.CancelFunc
	done        chan struct{}
	desired     map[event.Name]Handler
	active      map[event.Name]Handler
	onlineUsers []string

	writeMu sync.Mutex
}

// NewManager creates a manager for the server WebSocket endpoint at serverURL
func NewManager(serverURL string, session Session, logger *zap.SugaredLogger, opts ...Option) *Manager {
	m := &Manager{
		url:         serverURL,
		session:     session,
		dialer:      websocketDialer{dialer: &websocket.Dialer{HandshakeTimeout: constants.HandshakeTimeout}},
		sleep:       sleepContext,
		maxAttempts: constants.ReconnectAttempts,
		logger:      logger.Named("client"),
		desired:     make(map[event.Name]Handler),
		active:      make(map[event.Name]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnlineUsers returns the last presence snapshot received
func (m *Manager) OnlineUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.onlineUsers...)
}

// IsOnline reports whether userID was in the last presence snapshot
func (m *Manager) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.SearchStrings(m.onlineUsers, userID)
	return i < len(m.onlineUsers) && m.onlineUsers[i] == userID
}

// On sets the handler for an event, replacing any previous one. The handler
// table is installed afresh on every connection, so a handler never runs
// twice for one frame however often the manager reconnects.
func (m *Manager) On(name event.Name, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired[name] = h
	if m.state == Connected {
		m.active[name] = h
	}
}

// Off removes the handler for an event
func (m *Manager) Off(name event.Name) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.desired, name)
	delete(m.active, name)
}

// Connect starts maintaining a connection in the background. It returns
// ErrNotAuthenticated when the session has no credential, and nil if the
// manager is already running. A loop that is winding down is waited for,
// then a fresh one is started.
func (m *Manager) Connect(ctx context.Context) error {
	if _, _, ok := m.session.Credential(); !ok {
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	for m.state != Disconnected {
		if m.cancel != nil {
			m.mu.Unlock()
			return nil
		}
		// finish has released the loop but not yet settled in Disconnected
		stopping := m.done
		m.mu.Unlock()
		select {
		case <-stopping:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = Connecting
	done, hook := m.done, m.onState
	m.mu.Unlock()

	if hook != nil {
		hook(Disconnected, Connecting)
	}
	util.SafeGo(m.logger, "client", func() {
		defer close(done)
		m.run(runCtx)
	})
	return nil
}

// Disconnect closes the connection and stops retrying. It waits for the
// background loop to exit. Cancelling the context given to Connect has the
// same effect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the background loop has stopped
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// RequestOnlineUsers asks the server for the current presence snapshot
func (m *Manager) RequestOnlineUsers() error {
	frame, err := event.Encode(event.OnlineUsers, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *Manager) run(ctx context.Context) {
	defer m.finish()

	retries := 0
	for {
		conn, err := m.dial(ctx)
		if err == nil {
			retries = 0
			m.install(conn)
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			m.readLoop(conn)
			stop()
			m.uninstall()
			conn.Close()
		} else {
			var refusal *RefusalError
			if errors.As(err, &refusal) && refusal.Permanent() {
				m.logger.Warnw("Connection refused, re-authentication required",
					"code", refusal.Code,
					"status", refusal.Status)
				return
			}
			util.LogWarn(m.logger, "client", "connect", err, "retries", retries)
		}

		if ctx.Err() != nil {
			return
		}

		retries++
		if retries > m.maxAttempts {
			m.logger.Warnw("Giving up reconnecting", "attempts", m.maxAttempts)
			return
		}

		m.setState(Reconnecting)
		delay := Delay(retries)
		m.logger.Debugw("Reconnecting", "attempt", retries, "delay", delay.String())
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		m.setState(Connecting)
	}
}

// dial opens one connection with the session's current credential
func (m *Manager) dial(ctx context.Context) (Conn, error) {
	token, userID, ok := m.session.Credential()
	if !ok {
		return nil, &RefusalError{Status: http.StatusUnauthorized, Code: string(chaterrors.ErrCodeNoCredential)}
	}

	u, err := url.Parse(m.url)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		q := u.Query()
		q.Set(constants.HandshakeUserField, userID)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)

	conn, resp, err := m.dialer.Dial(ctx, u.String(), header)
	if err != nil {
		if refusal := parseRefusal(resp); refusal != nil {
			return nil, refusal
		}
		return nil, err
	}
	return conn, nil
}

// parseRefusal reads the {"error","code"} body of a refused handshake
func parseRefusal(resp *http.Response) *RefusalError {
	if resp == nil || resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	refusal := &RefusalError{Status: resp.StatusCode}
	if resp.Body != nil {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
			refusal.Code = body.Code
			refusal.Message = body.Error
		}
	}
	return refusal
}

// install replaces the active handler table with the desired one
func (m *Manager) install(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.active = make(map[event.Name]Handler, len(m.desired))
	for name, h := range m.desired {
		m.active[name] = h
	}
	m.mu.Unlock()

	m.setState(Connected)
	m.logger.Infow("Connected", "url", m.url)
}

func (m *Manager) uninstall() {
	m.mu.Lock()
	m.conn = nil
	m.active = make(map[event.Name]Handler)
	m.mu.Unlock()
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Infow("Server closed the connection", "error", err)
			} else {
				m.logger.Debugw("Connection lost", "error", err)
			}
			return
		}
		m.dispatch(raw)
	}
}

func (m *Manager) dispatch(raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		util.LogWarn(m.logger, "client", "decode frame", err)
		return
	}

	if env.Event == event.OnlineUsers {
		var users []string
		if err := env.DecodeData(&users); err != nil {
			util.LogWarn(m.logger, "client", "decode presence snapshot", err)
			return
		}
		sort.Strings(users)
		m.mu.Lock()
		m.onlineUsers = users
		m.mu.Unlock()
	}

	m.mu.Lock()
	h := m.active[env.Event]
	m.mu.Unlock()
	if h != nil {
		h(env.Data)
	}
}

func (m *Manager) finish() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.conn = nil
	m.onlineUsers = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.setState(Disconnected)
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	hook := m.onState
	m.mu.Unlock()

	if hook != nil && from != to {
		hook(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
