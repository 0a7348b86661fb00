package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup("warn", "json", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	Component(l, "session").Warn("stale pair", "key", "B600")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "stale pair", rec["msg"])
	assert.Equal(t, "session", rec["component"])
	assert.Equal(t, "B600", rec["key"])
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup("bogus", "text", &buf)
	assert.Error(t, err)
	require.NotNil(t, l)

	l.Info("table loaded", "keys", 19)
	assert.Contains(t, buf.String(), "msg=\"table loaded\" keys=19")
}

func TestComponentNilUsesDefault(t *testing.T) {
	assert.NotNil(t, Component(nil, "api"))
}
