package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "websocket-test-secret-0123456789abcdef"

// userDirectory is an in-memory auth.UserDirectory
type userDirectory struct {
	mu    sync.Mutex
	users map[string]*auth.Identity
	err   error
}

func (d *userDirectory) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *userDirectory) FindUserByID(ctx context.Context, userID string) (*auth.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[userID]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

type testEnv struct {
	server    *httptest.Server
	handler   *Handler
	registry  *presence.Registry
	validator *auth.JWTValidator
	directory *userDirectory
}

func newTestEnv(t *testing.T, userIDs ...string) *testEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()
	dir := &userDirectory{users: map[string]*auth.Identity{}}
	for _, id := range userIDs {
		dir.users[id] = &auth.Identity{UserID: id, DisplayName: "User " + id}
	}

	validator := auth.NewJWTValidator(testSecret)
	authenticator := auth.NewAuthenticator(auth.NewExtractor(), auth.NewVerifier(validator, dir), time.Second, logger)
	registry := presence.NewRegistry(logger)
	broadcaster := presence.NewBroadcaster(registry, logger)
	handler := NewHandler(authenticator, broadcaster, logger, 4096)

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handler.ShutdownWithContext(ctx)
		server.Close()
	})

	return &testEnv{
		server:    server,
		handler:   handler,
		registry:  registry,
		validator: validator,
		directory: dir,
	}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http")
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.validator.SignToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// dial connects as userID with a bearer credential
func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads the next frame and decodes its envelope
func readEvent(t *testing.T, conn *websocket.Conn) *event.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := event.Decode(raw)
	require.NoError(t, err)
	return env
}

// readSnapshot reads frames until a getOnlineUsers frame arrives
func readSnapshot(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	for {
		env := readEvent(t, conn)
		if env.Event != event.OnlineUsers {
			continue
		}
		var users []string
		require.NoError(t, json.Unmarshal(env.Data, &users))
		return users
	}
}

// readUntilSnapshot reads snapshots until one equals want
func readUntilSnapshot(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()
	for {
		got := readSnapshot(t, conn)
		if equalStrings(got, want) {
			return
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
