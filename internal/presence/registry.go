// Package presence tracks which users are reachable over a live connection
// and broadcasts the online-user list whenever that changes.
//
// The Registry is the only shared mutable state of the real-time subsystem.
// Every read and write goes through its methods; nothing else touches the map.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateConnection is returned when a connection ID is added twice for a user
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrInvalidConnection is returned when the user or connection ID is empty
	ErrInvalidConnection = errors.New("user ID and connection ID are required")
)

// Peer is one live connection as seen by presence and delivery.
// Send must not block: it enqueues the frame and reports whether it was accepted.
type Peer interface {
	ConnectionID() string
	UserID() string
	Send(frame []byte) bool
}

// Registry maps a user ID to the set of that user's live connections.
// A user is present iff their set is non-empty.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]Peer
	logger  *zap.SugaredLogger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		entries: make(map[string]map[string]Peer),
		logger:  logger.Named("registry"),
	}
}

// Add records connID as a live connection of userID
func (r *Registry) Add(userID, connID string, peer Peer) error {
	if userID == "" || connID == "" {
		return ErrInvalidConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.entries[userID]
	if !ok {
		conns = make(map[string]Peer)
		r.entries[userID] = conns
	}
	if _, exists := conns[connID]; exists {
		return fmt.Errorf("%w: user %s connection %s", ErrDuplicateConnection, userID, connID)
	}
	conns[connID] = peer
	return nil
}

// Remove drops connID from userID's set and deletes the entry when the set
// becomes empty. Removing an absent connection is a no-op. It reports
// whether anything was removed.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.entries[userID]
	if !ok {
		return false
	}
	_, existed := conns[connID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.entries, userID)
	}
	return existed
}

// IsOnline reports whether userID has at least one live connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	conns, ok := r.entries[userID]
	n := len(conns)
	r.mu.RUnlock()

	if ok && n == 0 {
		r.heal([]string{userID})
		return false
	}
	return ok
}

// Snapshot returns the present user IDs, sorted
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.entries))
	var empty []string
	for userID, conns := range r.entries {
		if len(conns) == 0 {
			empty = append(empty, userID)
			continue
		}
		users = append(users, userID)
	}
	r.mu.RUnlock()

	if len(empty) > 0 {
		r.heal(empty)
	}
	sort.Strings(users)
	return users
}

// Peers returns userID's live connections
func (r *Registry) Peers(userID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.entries[userID]
	peers := make([]Peer, 0, len(conns))
	for _, p := range conns {
		peers = append(peers, p)
	}
	return peers
}

// AllPeers returns every live connection
func (r *Registry) AllPeers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var peers []Peer
	for _, conns := range r.entries {
		for _, p := range conns {
			peers = append(peers, p)
		}
	}
	return peers
}

// ConnectionCount returns the number of live connections of userID
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[userID])
}

// Counts returns the live connection count per present user
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.entries))
	for userID, conns := range r.entries {
		if len(conns) > 0 {
			counts[userID] = len(conns)
		}
	}
	return counts
}

// Len returns the number of present users and of live connections
func (r *Registry) Len() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conns := range r.entries {
		if len(conns) > 0 {
			users++
			connections += len(conns)
		}
	}
	return users, connections
}

// heal deletes entries whose connection set is empty. Such an entry would
// report a user online with nobody connected.
func (r *Registry) heal(userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, userID := range userIDs {
		// Re-check under the write lock: an Add may have refilled it
		if conns, ok := r.entries[userID]; ok && len(conns) == 0 {
			delete(r.entries, userID)
			metrics.RegistrySelfHeals.Inc()
			violation := chaterrors.ErrRegistryInvariant(userID)
			r.logger.Warnw("Removed empty presence entry",
				"user_id", userID,
				"code", violation.Code,
				"error", violation.Message)
		}
	}
}
