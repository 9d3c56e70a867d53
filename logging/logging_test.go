package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponentAndTask(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithTask(WithComponent(base, "controller"), "abc_123", "demo")
	logger.Info().Msg("stage reached")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "controller", entry["component"])
	assert.Equal(t, "abc_123", entry["task_id"])
	assert.Equal(t, "demo", entry["title"])
	assert.Equal(t, "stage reached", entry["message"])
}

func TestInit_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	Init("debug", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Init("loud", true)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
