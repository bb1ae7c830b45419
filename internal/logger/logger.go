// Package logger implements tagfs's structured logging: a leveled slog
// logger with six severities (TRACE below slog's DEBUG, then DEBUG, INFO,
// WARNING in place of WARN, ERROR, and an OFF level above ERROR that
// silences everything), rendered as either single-line text or single-line
// JSON, optionally rotated to disk through lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names accepted by TAGFS_LOG and SetSeverity.
const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

// Levels, ordered the same as gcsfuse's own internal/logger convention:
// TRACE is the most verbose, OFF silences every call site.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = math.MaxInt32
)

// RotateConfig controls lumberjack's rotation behavior for a file-backed
// logger.
type RotateConfig struct {
	MaxFileSizeMB  int
	BackupFileCount int
	Compress       bool
}

// DefaultRotateConfig matches the rotation defaults this codebase ships.
func DefaultRotateConfig() RotateConfig {
	return RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// Config describes where and how to log.
type Config struct {
	FilePath string // empty means log to stderr
	Severity string
	Format   string // "text" or "json"
	Rotate   RotateConfig
}

type loggerFactory struct {
	file      *os.File
	sysWriter io.Writer
	format    string
	level     string
	rotate    RotateConfig

	programLevel *slog.LevelVar
	closer       io.Closer
}

var (
	defaultLoggerFactory = &loggerFactory{
		sysWriter:    os.Stderr,
		format:       "text",
		level:        SeverityInfo,
		rotate:       DefaultRotateConfig(),
		programLevel: new(slog.LevelVar),
	}
	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""),
	)
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, defaultLoggerFactory.programLevel)
}

// Init wires up the package-level default logger from cfg, reading
// TAGFS_LOG for the severity when cfg.Severity is empty, matching the
// original prototype's env_logger-driven verbosity.
func Init(cfg Config) error {
	severity := cfg.Severity
	if severity == "" {
		severity = SeverityFromEnv()
	}

	factory := &loggerFactory{
		format: cfg.Format,
		level:  severity,
		rotate: cfg.Rotate,
		programLevel: new(slog.LevelVar),
	}
	if factory.format == "" {
		factory.format = "json"
	}

	var w io.Writer
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: opening %s: %w", cfg.FilePath, err)
		}
		factory.file = f

		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotate.MaxFileSizeMB,
			MaxBackups: cfg.Rotate.BackupFileCount,
			Compress:   cfg.Rotate.Compress,
		}
		async := NewAsyncLogger(lj, 1024)
		factory.closer = async
		w = async
	} else {
		factory.sysWriter = os.Stderr
		w = os.Stderr
	}

	setLoggingLevel(factory.level, factory.programLevel)
	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(w, factory.programLevel, ""))
	return nil
}

// InitLogFile is a thin legacy-shaped entry point kept for call sites that
// already have a resolved file path and format; Init is preferred for new
// callers.
func InitLogFile(cfg Config) error {
	return Init(cfg)
}

// SetLogFormat changes the active format ("text" or "json"; any other value
// including "" is treated as "json") without touching severity or output.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	w := currentWriter()
	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, ""),
	)
}

func currentWriter() io.Writer {
	if defaultLoggerFactory.closer != nil {
		if w, ok := defaultLoggerFactory.closer.(io.Writer); ok {
			return w
		}
	}
	if defaultLoggerFactory.sysWriter != nil {
		return defaultLoggerFactory.sysWriter
	}
	return os.Stderr
}

// Close flushes and releases any open log file. Safe to call even when
// logging to stderr.
func Close() error {
	if defaultLoggerFactory.closer != nil {
		return defaultLoggerFactory.closer.Close()
	}
	return nil
}

// SeverityFromEnv reads TAGFS_LOG, the free-form filter string documented in
// SPEC_FULL.md's external interfaces section, defaulting to INFO.
func SeverityFromEnv() string {
	v := os.Getenv("TAGFS_LOG")
	switch normalizeSeverity(v) {
	case SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityOff:
		return normalizeSeverity(v)
	default:
		return SeverityInfo
	}
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case "trace", "TRACE":
		return SeverityTrace
	case "debug", "DEBUG":
		return SeverityDebug
	case "info", "INFO", "":
		return SeverityInfo
	case "warning", "WARNING", "warn", "WARN":
		return SeverityWarning
	case "error", "ERROR":
		return SeverityError
	case "off", "OFF":
		return SeverityOff
	default:
		return SeverityInfo
	}
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case SeverityTrace:
		programLevel.Set(LevelTrace)
	case SeverityDebug:
		programLevel.Set(LevelDebug)
	case SeverityInfo:
		programLevel.Set(LevelInfo)
	case SeverityWarning:
		programLevel.Set(LevelWarn)
	case SeverityError:
		programLevel.Set(LevelError)
	case SeverityOff:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// Tracef logs at TRACE severity, the most verbose level.
func Tracef(format string, v ...interface{}) { logf(LevelTrace, format, v...) }

// Debugf logs at DEBUG severity.
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

// Infof logs at INFO severity.
func Infof(format string, v ...interface{}) { logf(LevelInfo, format, v...) }

// Warnf logs at WARNING severity.
func Warnf(format string, v ...interface{}) { logf(LevelWarn, format, v...) }

// Errorf logs at ERROR severity.
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

func logf(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

////////////////////////////////////////////////////////////////////////////
// Handler
////////////////////////////////////////////////////////////////////////////

// createJsonOrTextHandler builds the slog.Handler driving w, gated by
// programLevel, prefixing every message with prefix (used by tests to
// disambiguate log streams).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &tagfsHandler{w: w, level: programLevel, format: f.format, prefix: prefix}
}

type tagfsHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	format string
	prefix string
}

func (h *tagfsHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *tagfsHandler) Handle(_ context.Context, r slog.Record) error {
	severity := severityName(r.Level)
	msg := h.prefix + r.Message

	var line string
	if h.format == "text" {
		line = fmt.Sprintf("time=%q severity=%s message=%q\n",
			r.Time.Format("2006/01/02 15:04:05.000000"), severity, msg)
	} else {
		line = fmt.Sprintf(`{"timestamp":{"seconds":%d,"nanos":%d},"severity":%q,"message":%q}`+"\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, msg)
	}
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *tagfsHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *tagfsHandler) WithGroup(_ string) slog.Handler       { return h }

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return SeverityTrace
	case l < LevelInfo:
		return SeverityDebug
	case l < LevelWarn:
		return SeverityInfo
	case l < LevelError:
		return SeverityWarning
	default:
		return SeverityError
	}
}
