package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger points the global logger at a console writer on w and sets the
// global level. An unknown level falls back to warn.
func SetupLogger(w io.Writer, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)

	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    w != os.Stderr,
	}
	log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

	if lvl <= zerolog.DebugLevel {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using warn")
	}
}

// GetLogger returns a logger tagged with the given component name
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// ValidLevel reports whether s names a zerolog level.
func ValidLevel(s string) bool {
	_, err := zerolog.ParseLevel(s)
	return err == nil
}
