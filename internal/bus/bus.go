// Package bus forwards deliveries between livechat nodes over NATS.
//
// Each node delivers to its own connections and publishes the same frame on
// SubjectDeliver; every other node delivers it to the recipient's connections
// it holds. A node ignores its own publications.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when publishing on a closed bus
	ErrClosed = errors.New("delivery bus is closed")
)

// Delivery is the wire form of a forwarded frame
type Delivery struct {
	Origin    string          `json:"origin"`
	Recipient string          `json:"recipient"`
	Frame     json.RawMessage `json:"frame"`
}

// Handler receives deliveries published by other nodes
type Handler func(recipientUserID string, frame []byte)

// Bus is a NATS connection scoped to one node
type Bus struct {
	conn    *nats.Conn
	nodeID  string
	subject string
	sub     *nats.Subscription
	logger  *zap.SugaredLogger
}

// Connect dials NATS at url on behalf of nodeID
func Connect(url, nodeID string, logger *zap.SugaredLogger) (*Bus, error) {
	log := logger.Named("bus")
	opts := []nats.Option{
		nats.Name("livechat-" + nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(constants.DefaultNATSReconnect),
		nats.Timeout(constants.HealthCheckTimeout * 5),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnw("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Infow("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return New(conn, nodeID, logger), nil
}

// New wraps an established NATS connection
func New(conn *nats.Conn, nodeID string, logger *zap.SugaredLogger) *Bus {
	return &Bus{
		conn:    conn,
		nodeID:  nodeID,
		subject: constants.SubjectDeliver,
		logger:  logger.Named("bus"),
	}
}

// PublishDelivery forwards frame for recipientUserID to the other nodes
func (b *Bus) PublishDelivery(ctx context.Context, recipientUserID string, frame []byte) error {
	if b.conn == nil || b.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Delivery{Origin: b.nodeID, Recipient: recipientUserID, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}
	return nil
}

// SubscribeDeliveries calls handler for every delivery published by another node
func (b *Bus) SubscribeDeliveries(handler Handler) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var d Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			util.LogWarn(b.logger, "bus", "decode delivery", err)
			return
		}
		// Own publications were already delivered locally
		if d.Origin == b.nodeID {
			return
		}
		handler(d.Recipient, d.Frame)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Ping checks the NATS connection by flushing a round trip
func (b *Bus) Ping(ctx context.Context) error {
	if b.conn == nil || !b.conn.IsConnected() {
		return ErrClosed
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes and drains the connection
func (b *Bus) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}

	done := make(chan struct{})
	b.conn.SetClosedHandler(func(_ *nats.Conn) { close(done) })
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	select {
	case <-done:
	case <-time.After(constants.ShutdownTimeout):
		b.conn.Close()
	}
	return nil
}
