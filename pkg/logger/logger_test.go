package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "json", "").Component("mutation")

	l.WithField("directive", 2).Warn("selector not found")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mutation", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "selector not found", entry["message"])
	assert.EqualValues(t, 2, entry["directive"])
}

func TestRedact(t *testing.T) {
	masked := Redact(map[string]interface{}{
		"api_key":  "sk-abc123",
		"endpoint": "https://analytics.example.com/v1/query?site=x",
		"model":    "gpt-4o-mini",
		"retain":   10,
	})

	assert.Equal(t, "***", masked["api_key"])
	assert.Contains(t, masked["endpoint"], "analytics.example.com#")
	assert.NotContains(t, masked["endpoint"], "/v1/query")
	assert.Equal(t, "gpt-4o-mini", masked["model"])
	assert.Equal(t, 10, masked["retain"])
}

func TestMaskSecret_Unset(t *testing.T) {
	assert.Equal(t, "unset", MaskSecret(""))
}
