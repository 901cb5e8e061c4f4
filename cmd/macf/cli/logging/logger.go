// Package logging provides structured logging for MACF using slog.
//
// Hooks call Init with the host session ID so each session gets its own JSON
// log file under {agent_home}/.maceff/logs/. CLI commands typically skip
// Init and log to stderr.
//
//	if err := logging.Init(sessionID); err != nil { ... }
//	defer logging.Close()
//
//	ctx = logging.WithComponent(ctx, "hooks")
//	logging.Info(ctx, "hook invoked", slog.String("hook", verb))
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/validation"
)

// LogLevelEnvVar controls log level; overrides config.
const LogLevelEnvVar = "MACF_LOG_LEVEL"

var (
	logger           *slog.Logger
	logFile          *os.File
	logBufWriter     *bufio.Writer
	currentSessionID string

	// mu protects the variables above.
	mu sync.RWMutex

	// logLevelGetter reads the level from config without a circular import.
	logLevelGetter func() string
)

// SetLogLevelGetter sets a callback to read the log level from config.
// Used only when MACF_LOG_LEVEL is unset.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	logLevelGetter = getter
}

// Init initializes the logger for a session, writing JSON logs to
// {agent_home}/.maceff/logs/<session-id>.log. Falls back to stderr when the
// file cannot be created.
func Init(sessionID string) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	level := parseLogLevel(levelStr)

	logsDir, err := paths.LogsDir()
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	f, err := os.OpenFile(filepath.Join(logsDir, sessionID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // sessionID validated above
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192)
	logger = createLogger(logBufWriter, level)
	currentSessionID = sessionID
	return nil
}

// Close flushes and closes the log file. Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	currentSessionID = ""
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func getSessionID() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentSessionID
}

func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms calculated from start.
// Designed for defer:
//
//	defer logging.LogDuration(ctx, slog.LevelDebug, "hook completed", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	allAttrs = append(allAttrs, attrs...)
	log(ctx, level, msg, allAttrs...)
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any
	globalSessionID := getSessionID()
	if globalSessionID != "" {
		allAttrs = append(allAttrs, slog.String("session_id", globalSessionID))
	}
	for _, a := range attrsFromContext(ctx, globalSessionID) {
		allAttrs = append(allAttrs, a)
	}
	allAttrs = append(allAttrs, attrs...)

	// Context values are already extracted as attributes.
	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // nil context is intentional
}

func attrsFromContext(ctx context.Context, globalSessionID string) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if globalSessionID == "" {
		if s := SessionIDFromContext(ctx); s != "" {
			attrs = append(attrs, slog.String("session_id", s))
		}
	}
	if s := ComponentFromContext(ctx); s != "" {
		attrs = append(attrs, slog.String("component", s))
	}
	if s := HookFromContext(ctx); s != "" {
		attrs = append(attrs, slog.String("hook", s))
	}
	if c, ok := CycleFromContext(ctx); ok {
		attrs = append(attrs, slog.Int("cycle", c))
	}
	return attrs
}
