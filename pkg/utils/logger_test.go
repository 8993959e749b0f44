package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(LoggerConfig{Level: "bogus", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Debug("hidden")
	NewSugaredAdapter(logger).Info("Reminder resolved", "request_code", "REQ-1", "kind", "day-5")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "debug is below the fallback info level")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Reminder resolved", entry["msg"])
	assert.Equal(t, "REQ-1", entry["request_code"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry["caller"], "logger_test.go")
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("head@central.example"))
	assert.Error(t, ValidateEmail("head@central"))
	assert.Error(t, ValidateEmail(""))
}
