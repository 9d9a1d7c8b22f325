package util

import (
	"fmt"

	"go.uber.org/zap"
)

// LogError logs an error with component and operation context.
// The message is always "Failed to <operation>" so failures group cleanly in log search.
//
// Example:
//
//	LogError(logger, "websocket", "upgrade connection", err, "user_id", userID)
func LogError(logger *zap.SugaredLogger, component, operation string, err error, fields ...interface{}) {
	allFields := []interface{}{"error", err, "component", component}
	allFields = append(allFields, fields...)
	logger.Errorw(fmt.Sprintf("Failed to %s", operation), allFields...)
}

// LogWarn is LogError at warn level, for failures the caller recovers from.
func LogWarn(logger *zap.SugaredLogger, component, operation string, err error, fields ...interface{}) {
	allFields := []interface{}{"error", err, "component", component}
	allFields = append(allFields, fields...)
	logger.Warnw(fmt.Sprintf("Failed to %s", operation), allFields...)
}
