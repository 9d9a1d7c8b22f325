// Package router delivers chat events to the live connections of a user.
//
// Delivery is best-effort and synchronous: the caller learns whether any
// connection accepted the event and falls back to request/response fetching
// otherwise. The message itself is persisted by the caller regardless.
package router

import (
	"context"
	"errors"

	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/event"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

var (
	// ErrEmptyRecipient is returned when no recipient is given
	ErrEmptyRecipient = errors.New("recipient user ID is required")
)

// Publisher forwards an encoded frame to the other nodes of the cluster
type Publisher interface {
	PublishDelivery(ctx context.Context, recipientUserID string, frame []byte) error
}

// Outcome is the result of one delivery
type Outcome struct {
	Delivered            bool `json:"delivered"`
	RecipientConnections int  `json:"recipientConnections"`
	Failed               int  `json:"-"`
	Forwarded            bool `json:"forwarded,omitempty"`
}

// MessageRouter pushes events to every live connection of a recipient
type MessageRouter struct {
	registry  *presence.Registry
	publisher Publisher
	logger    *zap.SugaredLogger
}

// Option configures a MessageRouter
type Option func(*MessageRouter)

// WithPublisher also forwards every delivery to other nodes
func WithPublisher(p Publisher) Option {
	return func(mr *MessageRouter) {
		mr.publisher = p
	}
}

// NewMessageRouter creates a router reading live connections from registry
func NewMessageRouter(registry *presence.Registry, logger *zap.SugaredLogger, opts ...Option) *MessageRouter {
	mr := &MessageRouter{
		registry: registry,
		logger:   logger.Named("router"),
	}
	for _, opt := range opts {
		opt(mr)
	}
	return mr
}

// Deliver encodes payload as the named event and pushes it to every live
// connection of recipientUserID. No live connection is a normal outcome, not
// an error; the only error is a payload that cannot be encoded.
func (mr *MessageRouter) Deliver(ctx context.Context, recipientUserID string, name event.Name, payload interface{}) (Outcome, error) {
	if recipientUserID == "" {
		return Outcome{}, ErrEmptyRecipient
	}

	frame, err := event.Encode(name, payload)
	if err != nil {
		return Outcome{}, err
	}

	outcome := mr.DeliverFrame(recipientUserID, frame)

	// The recipient may also be connected to other nodes
	if mr.publisher != nil {
		if err := mr.publisher.PublishDelivery(ctx, recipientUserID, frame); err != nil {
			util.LogWarn(mr.logger, "router", "forward delivery", err,
				"recipient", recipientUserID,
				"event", name)
		} else {
			outcome.Forwarded = true
			metrics.BusDeliveries.WithLabelValues("published").Inc()
		}
	}

	return outcome, nil
}

// DeliverFrame pushes an encoded frame to the recipient's connections on this
// node. A failed push is never retried: the dead connection is cleaned up by
// its own disconnect handling.
func (mr *MessageRouter) DeliverFrame(recipientUserID string, frame []byte) Outcome {
	peers := mr.registry.Peers(recipientUserID)
	outcome := Outcome{RecipientConnections: len(peers)}

	if len(peers) == 0 {
		metrics.Deliveries.WithLabelValues(metrics.DeliveryOffline).Inc()
		return outcome
	}

	for _, p := range peers {
		if p.Send(frame) {
			outcome.Delivered = true
			continue
		}
		outcome.Failed++
	}

	switch {
	case outcome.Failed == 0:
		metrics.Deliveries.WithLabelValues(metrics.DeliveryDelivered).Inc()
	case outcome.Delivered:
		metrics.Deliveries.WithLabelValues(metrics.DeliveryPartial).Inc()
		partial := chaterrors.ErrDeliveryPartialFailure(recipientUserID, outcome.Failed, len(peers))
		mr.logger.Infow("Delivery reached some connections",
			"recipient", recipientUserID,
			"code", partial.Code,
			"failed", outcome.Failed,
			"connections", len(peers))
	default:
		metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		mr.logger.Warnw("Delivery reached no connection",
			"recipient", recipientUserID,
			"connections", len(peers))
	}

	return outcome
}

// HandleRemoteDelivery delivers a frame forwarded by another node to this
// node's connections of the recipient
func (mr *MessageRouter) HandleRemoteDelivery(recipientUserID string, frame []byte) {
	metrics.BusDeliveries.WithLabelValues("received").Inc()
	mr.DeliverFrame(recipientUserID, frame)
}
