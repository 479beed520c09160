package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// FileName is the append-only run log kept under the logs directory.
const FileName = "pipeline_log.txt"

// Logger bundles the structured logger with the file sink it writes to.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a text logger writing to stdout and, when logDir is non-empty,
// appending to logDir/pipeline_log.txt. Every record carries run_id.
func New(logDir, runID string, level slog.Level) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(logDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return &Logger{
		Logger: slog.New(h).With("run_id", runID),
		file:   file,
	}, nil
}

// Close closes the log file if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger that drops every record. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
