package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, closer, err := New(Options{})
	require.NoError(t, err)
	require.Nil(t, closer)
	require.Equal(t, log.InfoLevel, logger.GetLevel())
}

func TestVerboseEnablesDebug(t *testing.T) {
	logger, _, err := New(Options{Verbose: true})
	require.NoError(t, err)
	require.Equal(t, log.DebugLevel, logger.GetLevel())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astraldb.log")
	logger, closer, err := New(Options{File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	logger.Info("hello from the engine")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the engine")
}

func TestBadFilePath(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
