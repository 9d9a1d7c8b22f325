package livechat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/bus"
	"github.com/real-rm/livechat/internal/config"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testJWTSecret = "k9F2mQ7xR4vL8pZ1wN6bT3yH5jC0gD2s"

// memUsers is an in-memory UserStore
type memUsers struct {
	users map[string]*auth.Identity
}

func newMemUsers(ids ...string) *memUsers {
	u := &memUsers{users: map[string]*auth.Identity{}}
	for _, id := range ids {
		u.users[id] = &auth.Identity{UserID: id, DisplayName: "User " + id}
	}
	return u
}

func (u *memUsers) FindUserByID(_ context.Context, userID string) (*auth.Identity, error) {
	identity, ok := u.users[userID]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	copied := *identity
	return &copied, nil
}

func (u *memUsers) Exists(_ context.Context, userID string) (bool, error) {
	_, ok := u.users[userID]
	return ok, nil
}

// memMessages is an in-memory MessageStore
type memMessages struct {
	mu       sync.Mutex
	messages map[string]*message.Message
}

func newMemMessages() *memMessages {
	return &memMessages{messages: map[string]*message.Message{}}
}

func (m *memMessages) Create(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *msg
	m.messages[msg.ID] = &copied
	return nil
}

func (m *memMessages) Get(_ context.Context, id string) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

func (m *memMessages) ListConversation(_ context.Context, userA, userB string) ([]*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*message.Message{}
	for _, msg := range m.messages {
		if (msg.SenderID == userA && msg.ReceiverID == userB) || (msg.SenderID == userB && msg.ReceiverID == userA) {
			copied := *msg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memMessages) UpdateText(_ context.Context, id, text string, now time.Time) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg.Text = text
	msg.Edited = true
	msg.UpdatedAt = now.UTC()
	copied := *msg
	return &copied, nil
}

func (m *memMessages) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return storage.ErrMessageNotFound
	}
	delete(m.messages, id)
	return nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// fakeMirror records mirror calls
type fakeMirror struct {
	mu      sync.Mutex
	counts  map[string]int
	cleared int
	users   []string
}

func (f *fakeMirror) Sync(_ context.Context, userID string, connections int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	if connections == 0 {
		delete(f.counts, userID)
	} else {
		f.counts[userID] = connections
	}
	return nil
}

func (f *fakeMirror) Refresh(_ context.Context, counts map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = counts
	return nil
}

func (f *fakeMirror) OnlineUsers(context.Context) ([]string, error) {
	return f.users, nil
}

func (f *fakeMirror) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeMirror) Ping(context.Context) error { return nil }

// fakeBus records published frames and exposes the subscribed handler
type fakeBus struct {
	mu        sync.Mutex
	published []string
	handler   bus.Handler
	closed    int
}

func (b *fakeBus) PublishDelivery(_ context.Context, recipientUserID string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, recipientUserID)
	return nil
}

func (b *fakeBus) SubscribeDeliveries(handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBus) Ping(context.Context) error { return nil }

func testConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Server.TrustedProxies = nil
	return cfg
}

type testService struct {
	service  *Service
	server   *httptest.Server
	users    *memUsers
	messages *memMessages
	signer   *auth.JWTValidator
}

func newTestService(t *testing.T, deps Dependencies) *testService {
	t.Helper()
	return newTestServiceWithClock(t, deps, nil)
}

// newTestServiceWithClock installs now as the service clock before serving
func newTestServiceWithClock(t *testing.T, deps Dependencies, now func() time.Time) *testService {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if deps.Users == nil {
		deps.Users = newMemUsers("alice", "bob", "carol")
	}
	if deps.Messages == nil {
		deps.Messages = newMemMessages()
	}

	engine := gin.New()
	service, err := Register(engine, testConfig(), zap.NewNop().Sugar(), deps)
	require.NoError(t, err)
	if now != nil {
		service.now = now
	}

	server := httptest.NewServer(engine)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
		server.Close()
	})

	ts := &testService{
		service: service,
		server:  server,
		signer:  auth.NewJWTValidator(testJWTSecret),
	}
	ts.users, _ = deps.Users.(*memUsers)
	ts.messages, _ = deps.Messages.(*memMessages)
	return ts
}

func (ts *testService) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.signer.SignToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends an API request as userID; an empty userID sends no credential
func (ts *testService) do(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+"/livechat"+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testService) dial(t *testing.T, userID string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/livechat/ws?token=" + ts.token(t, userID)
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		return ts.service.Registry().IsOnline(userID)
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// nextEvent reads frames until one named name arrives
func nextEvent(t *testing.T, conn *gorilla.Conn, name event.Name) *event.Envelope {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := event.Decode(raw)
		require.NoError(t, err)
		if env.Event == name {
			return env
		}
	}
}
