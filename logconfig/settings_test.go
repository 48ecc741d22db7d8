package logconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	myLogger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	defer ConfigProductionLogger()

	Configure("debug")
	assert.Equal(t, myLogger.DebugLevel, myLogger.GetLevel())

	Configure("info")
	assert.Equal(t, myLogger.InfoLevel, myLogger.GetLevel())

	Configure("whatever")
	assert.Equal(t, myLogger.InfoLevel, myLogger.GetLevel())
	assert.IsType(t, &myLogger.JSONFormatter{}, myLogger.StandardLogger().Formatter)
}

func TestOpenDailyFile(t *testing.T) {
	defer myLogger.SetOutput(os.Stderr)

	dir := t.TempDir()
	day := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	closer, err := OpenDailyFile(dir, day)
	require.NoError(t, err)

	myLogger.Info("hello from the relay")
	require.NoError(t, closer.Close())
	myLogger.SetOutput(os.Stderr)

	body, err := os.ReadFile(filepath.Join(dir, "log_2024-03-09.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello from the relay")
}

func TestOpenDailyFileMissingDir(t *testing.T) {
	_, err := OpenDailyFile(filepath.Join(t.TempDir(), "absent"), time.Now())
	assert.Error(t, err)
}
