// Package logging configures the broker's structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"odin-stomp/internal/config"
)

// New builds a zerolog.Logger from cfg: JSON to stdout by default, or a
// colorized console writer when LogFormat is "console".
func New(cfg *config.Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "odin-stomp").
		Logger()
}
