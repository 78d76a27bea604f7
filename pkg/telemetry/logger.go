package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger builds the root zerolog logger from configuration.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writer = file
	}

	if cfg.Format == "console" || cfg.Format == "" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(cfg.Level))

	if cfg.EnableCaller {
		logger = logger.With().Caller().Logger()
	}

	return logger, nil
}

// ComponentLogger derives a child logger tagged with the component name.
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithContext stores the logger in the context.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext retrieves the logger from the context, falling back to a
// minimal stderr logger when none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseLevel converts a level name to a zerolog level, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
