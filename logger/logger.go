package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

// Fields represents log fields
type Fields map[string]interface{}

var (
	// Default is the default logger instance
	Default *Logger

	initOnce sync.Once
)

// Init initializes the logger with the given configuration
func Init() {
	initOnce.Do(func() {
		level := getLogLevel()

		// Configure zerolog
		zerolog.TimeFieldFormat = time.RFC3339
		zerolog.SetGlobalLevel(level)

		// Create console writer for development
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}

		Default = New(output)

		Default.Debug().
			Str("level", level.String()).
			Msg("Logger initialized")
	})
}

// New creates a logger writing to w, mostly useful in tests
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		if os.Getenv("MODAGG_ENVIRONMENT") == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// WithFields creates a new logger with fields
func (l *Logger) WithFields(fields Fields) *Logger {
	newLogger := l.logger.With()
	for k, v := range fields {
		newLogger = newLogger.Interface(k, v)
	}
	return &Logger{logger: newLogger.Logger()}
}

// WithField creates a new logger with a single field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// Debug returns a debug event
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info returns an info event
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn returns a warn event
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error returns an error event
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	get().Info().Msgf(format, v...)
}

func get() *Logger {
	if Default == nil {
		Init()
	}
	return Default
}

// ForComponent creates a logger tagged with a component name
func ForComponent(component string) *Logger {
	return get().WithField("component", component)
}

// ForExtractor creates a logger for the selector extractor
func ForExtractor() *Logger { return ForComponent("extractor") }

// ForDetector creates a logger for the update detector
func ForDetector() *Logger { return ForComponent("detector") }

// ForResolver creates a logger for the page cache resolver
func ForResolver() *Logger { return ForComponent("resolver") }

// ForFetcher creates a logger for the HTTP fetcher
func ForFetcher() *Logger { return ForComponent("fetcher") }

// ForStore creates a logger for the persistence adapters
func ForStore() *Logger { return ForComponent("store") }

// ForNotifier creates a logger for change notifiers
func ForNotifier() *Logger { return ForComponent("notifier") }

// ForWorker creates a logger for the worker
func ForWorker() *Logger { return ForComponent("worker") }

// ForSite creates a logger for one site's update check
func ForSite(id int64, name string) *Logger {
	return get().WithFields(Fields{"site_id": id, "site": name})
}
