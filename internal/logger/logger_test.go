package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Helper()
	prev := L
	t.Cleanup(func() { L = prev })
}

func TestDisabledDiscards(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: false, Output: &buf}))
	Error("dropped")
	assert.Zero(t, buf.Len())
}

func TestInitJSON(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Format: "json", Level: slog.LevelDebug, Output: &buf}))

	Debug("raw allocation", "space", "device", "bytes", 4096)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "raw allocation", rec["msg"])
	assert.Equal(t, "device", rec["space"])
	assert.EqualValues(t, 4096, rec["bytes"])
}

func TestInitLevelFilters(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Level: slog.LevelWarn, Output: &buf}))

	Info("quiet")
	Warn("loud")
	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestInitBadFormat(t *testing.T) {
	resetLogger(t)
	err := Init(Options{Enabled: true, Format: "xml", Output: &bytes.Buffer{}})
	require.ErrorIs(t, err, ErrBadFormat)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestInitLogDir(t *testing.T) {
	resetLogger(t)
	dir := t.TempDir()

	old := filepath.Join(dir, logPrefix+"2000-01-01"+logSuffix)
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0644))

	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	Info("hello")

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "expired log should be removed")
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)

	today := filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	data, err := os.ReadFile(today)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello"))
}
