package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	intrnl "livechat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration. The
// terminal belongs to the TUI, so logs go to cfg.LogFile or nowhere.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	out, closeLog, err := openLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	logger, err := NewLogger(cfg.LogLevel, out)
	if err != nil {
		return err
	}
	return intrnl.RunClient(intrnl.ClientOptions{
		JoinURL:     cfg.ServerURL,
		SessionPath: cfg.SessionPath,
		Username:    cfg.Username,
		Peer:        cfg.Peer,
		Room:        cfg.Room,
		RetryDelay:  cfg.RetryDelay,
		Logger:      logger,
	})
}

func openLogFile(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
