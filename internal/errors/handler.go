package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"buildcell/internal/ui"
)

// ErrorHandler reports errors twice: structured JSON into a log file for
// later inspection, and a formatted message on the console for the user.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
}

func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := createLogFile()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &ErrorHandler{
		logger:  logger,
		console: ui.NewConsole(),
	}, nil
}

// logDir returns the directory for the session log. The tool is Linux only,
// so the XDG data dir is the single standard location; BUILDCELL_LOG_DIR
// overrides it for tests.
func logDir() (string, error) {
	if custom := os.Getenv("BUILDCELL_LOG_DIR"); custom != "" {
		return custom, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "buildcell", "logs"), nil
}

// rotateLogFile shifts buildcell.log.N up by one, dropping the oldest, then
// moves the live log to .1.
func rotateLogFile(logPath string) error {
	const maxFiles = 5

	for i := maxFiles - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(oldPath); err != nil {
			continue
		}
		if i == maxFiles-1 {
			if err := os.Remove(oldPath); err != nil {
				slog.Warn("Failed to remove old log file", "path", oldPath, "error", err)
			}
			continue
		}
		newPath := fmt.Sprintf("%s.%d", logPath, i+1)
		if err := os.Rename(oldPath, newPath); err != nil {
			slog.Warn("Failed to rotate log file", "old", oldPath, "new", newPath, "error", err)
		}
	}

	if _, err := os.Stat(logPath); err == nil {
		return os.Rename(logPath, logPath+".1")
	}
	return nil
}

func createLogFile() (*os.File, error) {
	const maxSizeBytes = 10 * 1024 * 1024

	dir, err := logDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, "buildcell.log")
	if info, err := os.Stat(logPath); err == nil && info.Size() >= maxSizeBytes {
		if err := rotateLogFile(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
		}
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		h.handleSessionError(sessionErr)
	} else {
		h.handleGenericError(err)
	}
}

func (h *ErrorHandler) handleSessionError(err *SessionError) {
	logAttrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("type", typeName(err.Type)),
		slog.String("context", err.Context),
		slog.Int("exitCode", err.ExitCode),
	}
	if err.Cause != "" {
		logAttrs = append(logAttrs, slog.String("cause", err.Cause))
	}
	if err.Suggestion != "" {
		logAttrs = append(logAttrs, slog.String("suggestion", err.Suggestion))
	}
	h.logger.LogAttrs(context.TODO(), slog.LevelError, "Build session error occurred", logAttrs...)

	h.console.PrintError(h.console.FormatErrorMessage(err.Context, err.Cause, err.Suggestion))
}

func (h *ErrorHandler) handleGenericError(err error) {
	h.logger.Error("Unhandled error occurred", "error", err.Error(), "type", "generic")
	h.console.PrintError(err.Error())
}

func typeName(errType error) string {
	switch errType {
	case ErrCommandFailed:
		return "command_failed"
	case ErrLockContention:
		return "lock_contention"
	case ErrStorage:
		return "storage"
	case ErrProvisionFailed:
		return "provision_failed"
	case ErrConfigInvalid:
		return "config_invalid"
	case ErrNetworkFailed:
		return "network_failed"
	default:
		return "unknown"
	}
}
