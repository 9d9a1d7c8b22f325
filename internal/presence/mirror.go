package presence

import (
	"context"
	"sync"
	"time"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

// Mirror receives a copy of this node's presence so other nodes can see it.
// The local Registry stays the source of truth; mirror failures are logged
// and never affect admission or broadcasts.
type Mirror interface {
	// Sync records userID's connection count on this node; zero removes the user
	Sync(ctx context.Context, userID string, connections int) error
	// Refresh replaces this node's whole mirrored state and renews its expiry
	Refresh(ctx context.Context, counts map[string]int) error
}

type mirrorUpdate struct {
	userID      string
	connections int
}

// mirrorWorker applies updates to a Mirror off the broadcast path, in order
type mirrorWorker struct {
	mirror   Mirror
	registry *Registry
	logger   *zap.SugaredLogger
	interval time.Duration

	updates  chan mirrorUpdate
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newMirrorWorker(m Mirror, registry *Registry, logger *zap.SugaredLogger) *mirrorWorker {
	return &mirrorWorker{
		mirror:   m,
		registry: registry,
		logger:   logger.Named("mirror"),
		interval: constants.RedisPresenceTTL / 2,
		updates:  make(chan mirrorUpdate, constants.MirrorQueueSize),
		done:     make(chan struct{}),
	}
}

func (w *mirrorWorker) start() {
	w.wg.Add(1)
	util.SafeGo(w.logger, "presence-mirror", func() {
		defer w.wg.Done()
		w.run()
	})
}

func (w *mirrorWorker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Replace whatever a previous process with this node ID left behind
	w.refresh()

	for {
		select {
		case u := <-w.updates:
			w.sync(u)
		case <-ticker.C:
			w.refresh()
		case <-w.done:
			// Drain what was queued before stop
			for {
				select {
				case u := <-w.updates:
					w.sync(u)
				default:
					return
				}
			}
		}
	}
}

// enqueue never blocks. A dropped update is corrected by the next refresh.
func (w *mirrorWorker) enqueue(userID string, connections int) {
	select {
	case w.updates <- mirrorUpdate{userID: userID, connections: connections}:
	default:
		metrics.MirrorErrors.Inc()
		w.logger.Warnw("Presence mirror queue full, update dropped",
			"user_id", userID)
	}
}

func (w *mirrorWorker) sync(u mirrorUpdate) {
	ctx, cancel := util.NewTimeoutContext(constants.MirrorSyncTimeout)
	defer cancel()

	if err := w.mirror.Sync(ctx, u.userID, u.connections); err != nil {
		metrics.MirrorErrors.Inc()
		util.LogWarn(w.logger, "presence", "sync presence mirror", err,
			"user_id", u.userID,
			"connections", u.connections)
	}
}

func (w *mirrorWorker) refresh() {
	ctx, cancel := util.NewTimeoutContext(constants.MirrorSyncTimeout)
	defer cancel()

	if err := w.mirror.Refresh(ctx, w.registry.Counts()); err != nil {
		metrics.MirrorErrors.Inc()
		util.LogWarn(w.logger, "presence", "refresh presence mirror", err)
	}
}

func (w *mirrorWorker) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}
