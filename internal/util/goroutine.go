package util

import (
	"fmt"

	"github.com/real-rm/livechat/internal/metrics"
	"go.uber.org/zap"
)

// SafeGo launches a goroutine with panic recovery.
// If the goroutine panics, the panic is recovered, logged, and the error metric is incremented.
// A single connection's pump panicking must not take the process down with it.
func SafeGo(logger *zap.SugaredLogger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
				metrics.MessageErrors.Inc()
			}
		}()
		fn()
	}()
}
