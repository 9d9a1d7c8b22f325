// Package logging builds the service's structured logger.
//
// Every component receives a *zap.SugaredLogger derived from the root logger
// with Named, so log lines carry a dotted component path ("livechat.websocket").
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported output formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds a root logger at the given level ("debug", "info", "warn", "error")
// writing the given format to stdout.
func New(level, format string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(format) {
	case "", FormatJSON:
		cfg.Encoding = FormatJSON
	case FormatConsole:
		cfg.Encoding = FormatConsole
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q: must be %s or %s", format, FormatJSON, FormatConsole)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar().Named("livechat"), nil
}

// Sync flushes buffered log entries. Errors from syncing stdout on some
// platforms are expected and ignored.
func Sync(logger *zap.SugaredLogger) {
	_ = logger.Sync()
}
