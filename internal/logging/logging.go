// Package logging wraps zerolog with the console/JSON toggle and component
// child loggers used throughout the pricing engine.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console-writer output instead of JSON lines
}

// New builds the root logger. Call Component on it to scope a subsystem.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the "component" field, the
// pattern used across every package in this module.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// SetGlobalLogger installs l as the package-level zerolog.Logger so any
// code that calls log.Info() directly picks it up.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
