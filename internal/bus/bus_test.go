package bus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func connectOrSkip(t *testing.T, nodeID string) *Bus {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping NATS bus test")
	}
	b, err := Connect(url, nodeID, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBus_ForwardsToOtherNodesOnly(t *testing.T) {
	run := uuid.NewString()
	a := connectOrSkip(t, "a-"+run)
	b := connectOrSkip(t, "b-"+run)

	var mu sync.Mutex
	var gotA, gotB []string
	require.NoError(t, a.SubscribeDeliveries(func(r string, _ []byte) {
		mu.Lock()
		gotA = append(gotA, r)
		mu.Unlock()
	}))
	require.NoError(t, b.SubscribeDeliveries(func(r string, frame []byte) {
		mu.Lock()
		gotB = append(gotB, r)
		mu.Unlock()
		assert.JSONEq(t, `{"event":"newMessage","data":{"text":"hi"}}`, string(frame))
	}))
	require.NoError(t, a.conn.Flush())
	require.NoError(t, b.conn.Flush())

	recipient := "r-" + run
	require.NoError(t, a.PublishDelivery(context.Background(), recipient, []byte(`{"event":"newMessage","data":{"text":"hi"}}`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range gotB {
			if r == recipient {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, gotA, recipient, "a node ignores its own deliveries")
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := connectOrSkip(t, "closed-"+uuid.NewString())
	require.NoError(t, b.Close())

	err := b.PublishDelivery(context.Background(), "r", []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBus_NilConnection(t *testing.T) {
	b := &Bus{}
	assert.ErrorIs(t, b.PublishDelivery(context.Background(), "r", nil), ErrClosed)
	assert.ErrorIs(t, b.Ping(context.Background()), ErrClosed)
	assert.NoError(t, b.Close())
}
