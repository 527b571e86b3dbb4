package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).WithFields(Fields{"site_id": 7, "site": "nexus"})

	l.Info().Err(errors.New("boom")).Str("url", "https://a.example").Msg("check failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "nexus", entry["site"])
	assert.Equal(t, float64(7), entry["site_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "check failed", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestWithFieldKeepsParentFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).WithField("component", "resolver").WithField("tier", "exact")

	l.Warn().Msg("miss")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "resolver", entry["component"])
	assert.Equal(t, "exact", entry["tier"])
}

func TestComponentLoggers(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	Init()
	assert.NotNil(t, Default)
	assert.NotNil(t, ForResolver())
	assert.NotNil(t, ForExtractor())
	assert.NotNil(t, ForNotifier())
	assert.NotNil(t, ForSite(1, "nexus"))
}
