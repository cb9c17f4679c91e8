package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/quizdeck/internal/config"
)

func TestNew_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.Log{Level: "warn", Format: "console"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "WARN")
	require.Contains(t, out, "shown")
}

func TestNew_FileTee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qd.log")
	var buf bytes.Buffer
	log, err := New(config.Log{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	log.Info("flushed")
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "flushed", line["msg"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"msg":"flushed"`))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(config.Log{Level: "loud"}, nil)
	require.Error(t, err)
	_, err = New(config.Log{Level: "info", Format: "xml"}, nil)
	require.Error(t, err)
}
