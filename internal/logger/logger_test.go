package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", "text")
	require.NoError(t, err)

	log.WithField("source", "rankings").Info("checked")
	log.Debug("hidden")

	output := buf.String()
	assert.Contains(t, output, "checked")
	assert.Contains(t, output, "source=rankings")
	assert.NotContains(t, output, "hidden")
}

func TestLogrusLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", "json")
	require.NoError(t, err)

	log.WithFields(map[string]interface{}{"source": "olympics", "rows": 42}).
		Error("fetch failed", errors.New("timeout"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fetch failed", line["msg"])
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "timeout", line["error"])
	assert.Equal(t, "olympics", line["source"])
	assert.Equal(t, float64(42), line["rows"])
}

func TestNewWithWriter_Invalid(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rankwatch.log")
	log, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	log.Warn("rotated output")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated output")
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	log.WithField("a", 1).WithFields(map[string]interface{}{"b": 2}).Info("ignored")
	log.Error("ignored", errors.New("x"))
}
