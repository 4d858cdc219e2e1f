package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	defer Setup("info", false, nil)
	var buf bytes.Buffer
	Setup("debug", true, &buf)

	log.Debug().Str("component", "agent").Msg("hello")
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "agent", m["component"])
	assert.Equal(t, "debug", m["level"])
}

func TestSetupConsoleAndLevel(t *testing.T) {
	defer Setup("info", false, nil)
	var buf bytes.Buffer
	Setup("WARN", false, &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.NotContains(t, out, "\x1b[")
}

func TestSetupUnknownLevel(t *testing.T) {
	defer Setup("info", false, nil)
	Setup("chatty", false, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
