package logging

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{"info json", "info", "json", false, zapcore.InfoLevel},
		{"debug console", "debug", "console", false, zapcore.DebugLevel},
		{"uppercase level", "WARN", "json", false, zapcore.WarnLevel},
		{"empty format defaults to json", "error", "", false, zapcore.ErrorLevel},
		{"bad level", "verbose", "json", true, 0},
		{"bad format", "info", "xml", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer Sync(logger)

			core := logger.Desugar().Core()
			assert.True(t, core.Enabled(tt.enabled))
			if tt.enabled > zapcore.DebugLevel {
				assert.False(t, core.Enabled(tt.enabled-1))
			}
		})
	}
}

// TestProperty_UnknownLevelsRejected checks that only zap's level names are accepted.
func TestProperty_UnknownLevelsRejected(t *testing.T) {
	valid := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true, "": true, "warning": true,
	}

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("New fails exactly for non-level strings", prop.ForAll(
		func(level string) bool {
			_, err := New(level, FormatJSON)
			return (err == nil) == valid[strings.ToLower(level)]
		},
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}
