package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "INFO"
	}
	return levelNames[l]
}

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

// Logger emits structured JSON lines via slog. Derived loggers share
// the handler and accumulate fields.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger creates a logger writing JSON to output, defaulting to
// stdout.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: slogLevels[level],
	})
	return &Logger{logger: slog.New(handler), level: level}
}

func (l *Logger) derive(args ...interface{}) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithField returns a logger that attaches key=value to every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(key, value)
}

// WithFields returns a logger carrying all the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.derive(args...)
}

// WithError attaches the error message, or returns the receiver for a
// nil error.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.derive("error", err.Error())
}

func (l *Logger) Debug(message string) { l.logger.Debug(message) }
func (l *Logger) Info(message string)  { l.logger.Info(message) }
func (l *Logger) Warn(message string)  { l.logger.Warn(message) }
func (l *Logger) Error(message string) { l.logger.Error(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// LogEntry is a decoded JSON log line, used when inspecting logger
// output in tests and tooling.
type LogEntry struct {
	Time    string
	Level   string
	Message string
	// Fields holds every attribute beyond the standard three.
	Fields map[string]interface{}
}

// UnmarshalJSON splits the slog standard keys from the attached
// attributes.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["time"].(string); ok {
		e.Time = v
	}
	if v, ok := raw["level"].(string); ok {
		e.Level = v
	}
	if v, ok := raw["msg"].(string); ok {
		e.Message = v
	}
	delete(raw, "time")
	delete(raw, "level")
	delete(raw, "msg")
	e.Fields = raw
	return nil
}

type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
)

// WithRequestID stores the request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID reads the request ID, or "" when absent.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithUserID stores the user ID on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID reads the user ID, or "" when absent.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// WithLogger stores a logger on the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger reads the context logger, falling back to a default
// stdout logger.
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext returns the context logger with the request and user
// identifiers attached when present.
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if userID := GetUserID(ctx); userID != "" {
		logger = logger.WithField("user_id", userID)
	}
	return logger
}
