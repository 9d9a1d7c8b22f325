package util

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func TestLogError(t *testing.T) {
	tests := []struct {
		name      string
		component string
		operation string
		err       error
		fields    []interface{}
		wantMsg   string
		wantPairs map[string]interface{}
	}{
		{
			name:      "bare error",
			component: "http",
			operation: "list presence",
			err:       errors.New("registry unavailable"),
			wantMsg:   "Failed to list presence",
			wantPairs: map[string]interface{}{"component": "http"},
		},
		{
			name:      "extra fields",
			component: "websocket",
			operation: "register connection",
			err:       errors.New("duplicate connection id"),
			fields:    []interface{}{"user_id", "42", "connection_id", "c-1"},
			wantMsg:   "Failed to register connection",
			wantPairs: map[string]interface{}{
				"component":     "websocket",
				"user_id":       "42",
				"connection_id": "c-1",
			},
		},
		{
			name:      "numeric fields",
			component: "router",
			operation: "deliver message",
			err:       errors.New("queue full"),
			fields:    []interface{}{"failed", 2},
			wantMsg:   "Failed to deliver message",
			wantPairs: map[string]interface{}{"component": "router", "failed": int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := observedLogger()
			LogError(logger, tt.component, tt.operation, tt.err, tt.fields...)

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
			assert.Equal(t, tt.wantMsg, entries[0].Message)

			ctx := entries[0].ContextMap()
			assert.Equal(t, tt.err.Error(), ctx["error"])
			for k, v := range tt.wantPairs {
				assert.Equal(t, v, ctx[k], "field %s", k)
			}
		})
	}
}

func TestLogWarn(t *testing.T) {
	logger, logs := observedLogger()
	LogWarn(logger, "presence", "sync mirror", errors.New("redis down"))

	entries := logs.FilterMessage("Failed to sync mirror").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestSafeGo_NormalExecution(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	executed := false
	SafeGo(zap.NewNop().Sugar(), "test", func() {
		defer wg.Done()
		executed = true
	})

	wg.Wait()
	assert.True(t, executed)
}

func TestSafeGo_PanicRecovered(t *testing.T) {
	logger, logs := observedLogger()
	done := make(chan struct{})

	SafeGo(logger, "pump", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for goroutine to recover from panic")
	}

	// The recover runs after the deferred close, so poll briefly for the log entry
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Panic recovered in goroutine").Len() == 1
	}, time.Second, 10*time.Millisecond)

	// Process survived: another goroutine still runs
	survivor := make(chan struct{})
	SafeGo(logger, "survivor", func() { close(survivor) })
	select {
	case <-survivor:
	case <-time.After(2 * time.Second):
		t.Fatal("process died after panic")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"missing", "", "", ErrMissingAuthHeader},
		{"wrong scheme", "Basic abc", "", ErrInvalidAuthHeader},
		{"prefix only", "Bearer ", "", ErrInvalidAuthHeader},
		{"lowercase scheme", "bearer abc", "", ErrInvalidAuthHeader},
		{"whitespace token passes through", "Bearer    ", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainsWeakPattern(t *testing.T) {
	tests := []struct {
		input       string
		wantWeak    bool
		wantPattern string
	}{
		{"mypassword123", true, "password"},
		{"CHANGEME-now", true, "changeme"},
		{"admin_secret_key", true, "secret"},
		{"k9Zq-Lm3r-Vw8x-Tt2p-Hh7y-Nn4b-Qq1c", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			weak, pattern := ContainsWeakPattern(tt.input)
			assert.Equal(t, tt.wantWeak, weak)
			assert.Equal(t, tt.wantPattern, pattern)
		})
	}
}

func TestNewTimeoutContext(t *testing.T) {
	ctx, cancel := NewTimeoutContext(5 * time.Second)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}

func TestTimeoutContextExpires(t *testing.T) {
	ctx, cancel := NewTimeoutContext(20 * time.Millisecond)
	defer cancel()

	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestTraceID(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx := ContextWithTraceID(context.Background(), "abc123")
	assert.Equal(t, "abc123", TraceIDFromContext(ctx))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := TraceIDFromContext(NewContextWithTraceID(context.Background()))
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate trace ID %s", id)
		seen[id] = true
	}
}
