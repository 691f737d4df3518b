package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")

	logger.Debug().Str("user_id", "u1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "bookstore", entry["service"])
	assert.Equal(t, "hello", entry["message"])
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewWithWriter_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "console")

	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}
