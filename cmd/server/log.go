package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"

	"owlcam/internal/config"
)

type logBackend struct {
	stdOut     io.Writer
	logRotator *rotator.Rotator
}

func (bknd *logBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}

	return len(b), nil
}

func (bknd *logBackend) Close() error {
	if bknd.logRotator != nil {
		return bknd.logRotator.Close()
	}
	return nil
}

// setupLogging installs the default logger writing to stdout and the
// rotated log file.
func setupLogging(s *config.Settings) (*logBackend, error) {
	bknd := &logBackend{
		stdOut: os.Stdout,
	}
	if s.LogFile != "" {
		logDir := filepath.Dir(s.LogFile)
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logRotator, err := rotator.New(s.LogFile, 1024, false, s.MaxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		bknd.logRotator = logRotator
	}

	level, err := s.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(bknd, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return bknd, nil
}
