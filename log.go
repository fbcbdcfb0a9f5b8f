package main

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

type logConfig struct {
	Debug   bool   `env:"READALOUD_DEBUG"`
	LogFile string `env:"READALOUD_LOG_FILE"`
}

func getLogFilePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "readaloud", "readaloud.log"), nil
}

// setupLog logs warnings to stderr, or everything to a file when
// READALOUD_DEBUG is set. The returned func closes the file.
func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[logConfig]()
	if err != nil {
		return nil, err
	}

	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	if !cfg.Debug {
		return func() error { return nil }, nil
	}

	logFile := cfg.LogFile
	if logFile == "" {
		if logFile, err = getLogFilePath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, err
	}

	log.SetOutput(f)
	log.SetLevel(log.DebugLevel)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
