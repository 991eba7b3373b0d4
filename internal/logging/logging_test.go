package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"DEBUG": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"v1":    zapcore.Level(-1),
		"v3":    zapcore.Level(-3),
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcpdoctor.log")
	logger, closer, err := New(Options{Path: path, Level: "v1", MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("Recording started", "sessionID", 4)
	logger.V(1).Info("Dropping stale fetch result")
	logger.V(2).Info("too chatty")
	logger.Error(errors.New("boom"), "Fetching connections failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"Recording started"`)
	assert.Contains(t, out, `"sessionID":4`)
	assert.Contains(t, out, "Dropping stale fetch result")
	assert.NotContains(t, out, "too chatty")
	assert.Contains(t, out, `"error":"boom"`)
}

func TestNoOutputDiscards(t *testing.T) {
	logger, closer, err := New(Options{})
	require.NoError(t, err)
	assert.False(t, logger.Enabled())
	assert.NoError(t, closer.Close())
}
