package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level upper case", "WARN", zerolog.WarnLevel},
		{"empty falls back to info", "", zerolog.InfoLevel},
		{"garbage falls back to info", "loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewWithWriter(&bytes.Buffer{}, tt.level, "prod")
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestProdLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(&buf, "info", "prod"), "scheduler")

	logger.Info().Str("appointment_id", "a-1").Msg("booked")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "booked", line["message"])
	assert.Equal(t, "scheduler", line["component"])
	assert.Equal(t, "a-1", line["appointment_id"])
	assert.Contains(t, line, "time")
}

func TestDevLoggerIsConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "dev")

	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
