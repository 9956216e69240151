package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)
	log.Debug("hidden")
	log.Info("loaded", "feed", "rodalies", "stage", "load")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "loaded", line["msg"])
	assert.Equal(t, "rodalies", line["feed"])
	assert.Equal(t, "load", line["stage"])
}

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		warnSeen  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level, "text", &buf)
			log.Debug("d-line")
			log.Warn("w-line")
			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("d-line")))
			assert.Equal(t, tt.warnSeen, bytes.Contains(buf.Bytes(), []byte("w-line")))
		})
	}
}
