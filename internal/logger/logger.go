package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Init configures the standard logger. When path is set, output is written
// to both the file and stdout.
func Init(path string) error {
	log.SetFlags(0)
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(file, os.Stdout))
	return nil
}

// Debug logs a debug message with consistent format
// Format: [DEBUG] timestamp=... user_id=... action=... details=...
func Debug(userID int64, action, details string) {
	write("DEBUG", userID, action, details)
}

// Info logs a lifecycle event in the same format as Debug.
func Info(userID int64, action, details string) {
	write("INFO", userID, action, details)
}

// Error logs a failure in the same format as Debug.
func Error(userID int64, action string, err error, details string) {
	if err != nil {
		if details != "" {
			details += " "
		}
		details += "error=" + err.Error()
	}
	write("ERROR", userID, action, details)
}

func write(level string, userID int64, action, details string) {
	timestamp := time.Now().Format(time.RFC3339)
	log.Printf("[%s] timestamp=%s user_id=%d action=%s details=%s", level, timestamp, userID, action, details)
}
