package presence

import (
	"sync"

	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

// Broadcaster performs registry mutations for connection lifecycles and,
// after each one, pushes the full online-user list to every connected peer.
//
// A single sequencing lock covers mutation, snapshot and enqueue, so every
// peer receives snapshots in the order the mutations happened. Enqueueing is
// a non-blocking send on each peer's outbound queue; the network writes happen
// concurrently in each connection's write pump.
type Broadcaster struct {
	registry *Registry
	mirror   *mirrorWorker
	logger   *zap.SugaredLogger

	seq sync.Mutex
}

// BroadcasterOption configures a Broadcaster
type BroadcasterOption func(*Broadcaster)

// WithMirror copies per-user connection counts to m after every mutation
func WithMirror(m Mirror) BroadcasterOption {
	return func(b *Broadcaster) {
		if m != nil {
			b.mirror = newMirrorWorker(m, b.registry, b.logger)
		}
	}
}

// NewBroadcaster creates a broadcaster over registry
func NewBroadcaster(registry *Registry, logger *zap.SugaredLogger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   logger.Named("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.mirror != nil {
		b.mirror.start()
	}
	return b
}

// Registry returns the registry the broadcaster mutates
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Connect adds peer to the registry and broadcasts the new snapshot.
// Nothing is broadcast if the add fails.
func (b *Broadcaster) Connect(peer Peer) error {
	b.seq.Lock()
	defer b.seq.Unlock()

	if err := b.registry.Add(peer.UserID(), peer.ConnectionID(), peer); err != nil {
		return err
	}
	b.broadcastLocked()
	b.mirrorLocked(peer.UserID())
	return nil
}

// Disconnect removes peer from the registry and broadcasts the new snapshot.
// It reports whether peer was registered; a repeated Disconnect is a no-op
// and broadcasts nothing.
func (b *Broadcaster) Disconnect(peer Peer) bool {
	b.seq.Lock()
	defer b.seq.Unlock()

	if !b.registry.Remove(peer.UserID(), peer.ConnectionID()) {
		return false
	}
	b.broadcastLocked()
	b.mirrorLocked(peer.UserID())
	return true
}

// SendSnapshot enqueues the current online-user list to peer alone. It holds
// the sequencing lock so the reply cannot overtake a later broadcast.
func (b *Broadcaster) SendSnapshot(peer Peer) bool {
	b.seq.Lock()
	defer b.seq.Unlock()

	frame, err := event.Encode(event.OnlineUsers, b.registry.Snapshot())
	if err != nil {
		util.LogError(b.logger, "presence", "encode presence snapshot", err)
		return false
	}
	return peer.Send(frame)
}

// Close stops the mirror worker, if any, after it drains pending updates
func (b *Broadcaster) Close() {
	if b.mirror != nil {
		b.mirror.stop()
	}
}

// broadcastLocked must be called with seq held
func (b *Broadcaster) broadcastLocked() {
	snapshot := b.registry.Snapshot()
	metrics.OnlineUsers.Set(float64(len(snapshot)))

	frame, err := event.Encode(event.OnlineUsers, snapshot)
	if err != nil {
		util.LogError(b.logger, "presence", "encode presence snapshot", err)
		return
	}

	peers := b.registry.AllPeers()
	dropped := 0
	for _, p := range peers {
		// A peer that closed since the mutation just misses this snapshot
		if !p.Send(frame) {
			dropped++
		}
	}

	metrics.PresenceBroadcasts.Inc()
	if dropped > 0 {
		metrics.BroadcastDrops.Add(float64(dropped))
		b.logger.Debugw("Presence snapshot not enqueued for some peers",
			"dropped", dropped,
			"recipients", len(peers))
	}
}

// mirrorLocked must be called with seq held so updates reach the mirror in order
func (b *Broadcaster) mirrorLocked(userID string) {
	if b.mirror == nil {
		return
	}
	b.mirror.enqueue(userID, b.registry.ConnectionCount(userID))
}
