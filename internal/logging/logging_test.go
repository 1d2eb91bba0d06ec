package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/catalogsearch/internal/config"
	"github.com/knowledge-engine/catalogsearch/internal/logging"
)

func TestNew(t *testing.T) {
	entry, closer, err := logging.New(config.LogConfig{Level: "debug", Format: "json"}, "test-svc")
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, "test-svc", entry.Data["service"])
	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, entry.Logger.Formatter)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	entry, closer, err := logging.New(config.LogConfig{Level: "info", Format: "text", File: path}, "test-svc")
	require.NoError(t, err)

	entry.Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), "service=test-svc")
}

func TestNewInvalidLevel(t *testing.T) {
	_, _, err := logging.New(config.LogConfig{Level: "loud", Format: "text"}, "svc")
	assert.Error(t, err)
}
