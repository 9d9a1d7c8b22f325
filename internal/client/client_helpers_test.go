package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/livechat/internal/event"
)

var errRefused = errors.New("dial tcp: connection refused")

// fakeConn serves queued frames, then fails when the queue is closed
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{
		frames: make(chan []byte, len(frames)+8),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

// drop makes the next read fail once queued frames are consumed
func (c *fakeConn) drop() *fakeConn {
	close(c.frames)
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

var errConnClosed = errors.New("use of closed network connection")

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// dialResult is one scripted dial outcome
type dialResult struct {
	conn   *fakeConn
	status int
	body   string
	err    error
}

// scriptedDialer returns its results in order, then refuses forever
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
	urls    []string
	headers []http.Header
}

func (d *scriptedDialer) Dial(_ context.Context, url string, header http.Header) (Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())

	if len(d.results) == 0 {
		return nil, nil, errRefused
	}
	r := d.results[0]
	d.results = d.results[1:]

	if r.conn != nil {
		return r.conn, &http.Response{StatusCode: http.StatusSwitchingProtocols}, nil
	}
	if r.status != 0 {
		resp := &http.Response{
			StatusCode: r.status,
			Body:       io.NopCloser(bytes.NewBufferString(r.body)),
		}
		return nil, resp, websocket.ErrBadHandshake
	}
	return nil, nil, r.err
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// sleepRecorder records backoff waits without sleeping
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// stateLog records transitions
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) hook(_, to State) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func loggedIn(userID string) Session {
	return SessionFunc(func() (string, string, bool) {
		return "token-" + userID, userID, true
	})
}

func frame(name event.Name, payload interface{}) []byte {
	f, err := event.Encode(name, payload)
	if err != nil {
		panic(err)
	}
	return f
}
