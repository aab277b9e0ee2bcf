package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		debug bool
		info  bool
	}{
		{"prod", Options{Env: "prod"}, false, true},
		{"dev", Options{Env: "dev"}, true, true},
		{"empty env", Options{}, true, true},
		{"prod with debug override", Options{Env: "prod", Level: "debug"}, true, true},
		{"dev with warn override", Options{Env: "dev", Level: "warn"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, l.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.info, l.Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Options{Env: "dev", Level: "loud"})
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Component(zap.New(core).Sugar(), "keeper").Infow("tick", "positions", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "keeper", entries[0].ContextMap()["component"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["positions"])
}
