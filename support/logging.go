package support

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func ParseLevel(level string) (zerolog.Level, error) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "unknown log level %q", level)
	}
	return parsed, nil
}

func NewLogger(config LoggingConfig) zerolog.Logger {
	level, err := ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("service", "hrcdc").
		Logger()
}
