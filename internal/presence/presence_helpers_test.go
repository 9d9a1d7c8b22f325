package presence

import (
	"encoding/json"
	"sync"

	"github.com/real-rm/livechat/internal/event"
)

// fakePeer records frames; a closed peer refuses them
type fakePeer struct {
	connID string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakePeer(userID, connID string) *fakePeer {
	return &fakePeer{userID: userID, connID: connID}
}

func (p *fakePeer) ConnectionID() string { return p.connID }
func (p *fakePeer) UserID() string       { return p.userID }

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// snapshots decodes every getOnlineUsers frame received so far
func (p *fakePeer) snapshots() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]string
	for _, f := range p.frames {
		env, err := event.Decode(f)
		if err != nil || env.Event != event.OnlineUsers {
			continue
		}
		var users []string
		_ = json.Unmarshal(env.Data, &users)
		out = append(out, users)
	}
	return out
}

func (p *fakePeer) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}
