package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/afero"
)

// SecurityLogEntry defines the structure of a security log entry.
type SecurityLogEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Severity        string    `json:"severity"`
	Category        string    `json:"category"`
	Description     string    `json:"description"`
	Details         string    `json:"details,omitempty"`
	Source          string    `json:"source,omitempty"`
	OffenderAddress string    `json:"offender_address,omitempty"`
	OffenderID      string    `json:"offender_id,omitempty"`
}

const (
	LevelTrace    = slog.Level(-8)
	LevelFatal    = slog.Level(12)
	LevelSecurity = slog.Level(16)

	SeverityLow      = "Low"
	SeverityMedium   = "Medium"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"

	CategoryAccessControl   = "Access Control"
	CategoryAuthentication  = "Authentication"
	CategoryNetworkSecurity = "Network Security"
	CategoryPolicyViolation = "Policy Violation"

	SourceAuthentication = "authentication"
	SourceNetwork        = "network"
	SourceSigner         = "signer"

	Redacted = "[REDACTED]"
)

// Attribute key fragments that identify secret material. Any attribute whose
// key contains one of these is replaced with Redacted before it reaches a
// handler.
var secretKeyFragments = []string{
	"_pem",
	"key",
	"password",
	"secret",
	"token",
}

type Logger struct {
	logger *slog.Logger
}

func DefaultLogger() *Logger {
	return NewLogger(slog.LevelDebug, nil)
}

// Creates a new logger. When a log file is provided, JSON records are written
// to it. In debug mode (or when no log file is given) human readable text is
// also written to STDOUT.
func NewLogger(level slog.Level, logFile afero.File) *Logger {
	if logFile == nil {
		return NewWriterLogger(level, nil, os.Stdout)
	}
	if level <= slog.LevelDebug {
		return NewWriterLogger(level, logFile, os.Stdout)
	}
	return NewWriterLogger(level, logFile, nil)
}

// Creates a logger that fans out JSON records to jsonWriter and text records
// to textWriter. Either writer may be nil.
func NewWriterLogger(level slog.Level, jsonWriter, textWriter io.Writer) *Logger {

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}

	handlers := make([]slog.Handler, 0, 2)
	if jsonWriter != nil {
		handlers = append(handlers, slog.NewJSONHandler(jsonWriter, opts))
	}
	if textWriter != nil {
		handlers = append(handlers, slog.NewTextHandler(textWriter, opts))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, opts))
	}

	return &Logger{
		logger: slog.New(slogmulti.Fanout(handlers...)),
	}
}

// Returns a child logger that includes the given attributes on every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Returns a standard library logger writing through this logger at
// error level, for use as http.Server.ErrorLog
func (l *Logger) StdLogger() *log.Logger {
	return slog.NewLogLogger(l.logger.Handler(), slog.LevelError)
}

// Debug
func (l *Logger) Debug(message string, args ...any) {
	l.logger.Debug(message, args...)
}

func (l *Logger) Debugf(message string, args ...any) {
	l.logger.Debug(fmt.Sprintf(message, args...))
}

// Info
func (l *Logger) Info(message string, args ...any) {
	l.logger.Info(message, args...)
}

func (l *Logger) Infof(message string, args ...any) {
	l.logger.Info(fmt.Sprintf(message, args...))
}

// Warn
func (l *Logger) Warn(message string, args ...any) {
	l.logger.Warn(message, args...)
}

func (l *Logger) Warnf(message string, args ...any) {
	l.logger.Warn(fmt.Sprintf(message, args...))
}

// Error
func (l *Logger) Error(err error, args ...any) {
	if l == nil || l.logger == nil {
		// Error occurred before the logger was
		// initialized
		slog.Error(err.Error(), args...)
		return
	}
	xerr := xerrors.New(err)
	args = append(args, slog.Any("error", xerr))
	l.logger.Error(err.Error(), args...)
}

func (l *Logger) Errorf(message string, args ...any) {
	l.logger.Error(fmt.Sprintf(message, args...))
}

func (l *Logger) MaybeError(err error, args ...any) {
	l.logger.Warn(err.Error(), args...)
}

// Fatal
func (l *Logger) Fatal(message string, args ...any) {
	l.logger.Log(context.Background(), LevelFatal, message, args...)
	os.Exit(-1)
}

func (l *Logger) Fatalf(message string, args ...any) {
	l.Fatal(fmt.Sprintf(message, args...))
}

func (l *Logger) FatalError(err error) {
	l.Error(err)
	os.Exit(-1)
}

// Logs a security issue with standardized fields to faciliate
// processing security issues by external systems.
func (l *Logger) Security(issue SecurityLogEntry) {
	if issue.Timestamp.IsZero() {
		issue.Timestamp = time.Now()
	}
	l.logger.LogAttrs(
		context.Background(),
		LevelSecurity,
		"security_log",
		slog.Time("timestamp", issue.Timestamp),
		slog.String("severity", issue.Severity),
		slog.String("category", issue.Category),
		slog.String("description", issue.Description),
		slog.String("details", issue.Details),
		slog.String("source", issue.Source),
		slog.String("offender_address", issue.OffenderAddress),
		slog.String("offender_id", issue.OffenderID),
	)
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		switch {
		case level < slog.LevelDebug:
			a.Value = slog.StringValue("TRACE")
		case level >= LevelSecurity:
			a.Value = slog.StringValue("SECURITY")
		case level >= LevelFatal:
			a.Value = slog.StringValue("FATAL")
		}
		return a
	case slog.MessageKey, slog.TimeKey, slog.SourceKey:
		return a
	case "error":
		if xerr, ok := a.Value.Any().(error); ok {
			return slog.Any("error", formatError(xerr))
		}
		return a
	}
	if isSecretKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

func formatError(err error) map[string]any {
	trace := xerrors.StackTrace(err)
	frames := trace.Frames()
	stack := make([]stackFrame, 0, len(frames))
	for _, frame := range frames {
		stack = append(stack, stackFrame{
			Func:   frame.Function,
			Source: frame.File,
			Line:   frame.Line,
		})
	}
	return map[string]any{
		"msg":   err.Error(),
		"trace": stack,
	}
}
