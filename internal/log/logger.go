// Package log wraps log/slog with the service's component and field
// conventions.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger bound to a component. The component is carried
// as an attribute, so every record it writes has a "component" field.
type Logger struct {
	*slog.Logger
	base      *slog.Logger
	attrs     []any
	component string
}

type Config struct {
	Level     slog.Level
	Component string
	// Handler overrides the default text handler on stdout.
	Handler slog.Handler
}

// ParseLevel maps debug, info, warn and error to slog levels; anything
// else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	return bind(slog.New(handler), nil, config.Component)
}

func bind(base *slog.Logger, attrs []any, component string) *Logger {
	l := base.With(FieldComponent, component)
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return &Logger{Logger: l, base: base, attrs: attrs, component: component}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(append(attrs, l.attrs...), args...)
	return bind(l.base, attrs, l.component)
}

// WithComponent returns a logger for another component that keeps the
// attributes added with With.
func (l *Logger) WithComponent(component string) *Logger {
	return bind(l.base, l.attrs, component)
}

func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs logger as the slog default without its component,
// so loggers derived from the default can bind their own.
func SetDefault(logger *Logger) {
	l := logger.base
	if len(logger.attrs) > 0 {
		l = l.With(logger.attrs...)
	}
	slog.SetDefault(l)
}
