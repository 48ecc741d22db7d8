package logconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in tests and local runs (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{TimestampFormat: time.RFC3339})
}

// Configure picks the logger by mode name, unknown modes fall back to production.
func Configure(mode string) {
	switch mode {
	case "debug":
		ConfigDebugLogger()
	case "info":
		ConfigInfoLogger()
	default:
		ConfigProductionLogger()
	}
}

// OpenDailyFile directs log output to dir/log_YYYY-MM-DD.txt as well as stderr.
// The returned closer must be closed on exit.
func OpenDailyFile(dir string, now time.Time) (io.Closer, error) {
	if dir == "" {
		return io.NopCloser(nil), nil
	}
	path := filepath.Join(dir, fmt.Sprintf("log_%s.txt", now.Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file for writing: %w", err)
	}
	myLogger.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
