package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/jobwatch/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "info", "json")
	require.NoError(t, err)

	componentLogger := logging.Component(logger, "poller")
	componentLogger.Info().Str("job_id", "j1").Msg("tick")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tick", line["message"])
	assert.Equal(t, "poller", line["component"])
	assert.Equal(t, "j1", line["job_id"])
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("hidden too")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	_, err := logging.New(&buf, "loud", "json")
	require.Error(t, err)
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "info", "console")
	require.NoError(t, err)

	logger.Info().Msg("human readable")
	assert.Contains(t, buf.String(), "human readable")
	assert.NotContains(t, buf.String(), `"message"`)
}
