package logutil

import (
	"io"
	"os"

	"cloud.google.com/go/compute/metadata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogger sets up the global logger. Logs go to stderr since stdout
// may carry the serialized trace.
func ConfigureLogger(level string) {
	configure(os.Stderr, level, metadata.OnGCE())
}

func configure(w io.Writer, level string, structured bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if structured {
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Stack().Logger().Hook(SeverityHook{})
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Caller().Stack().Logger()
	}
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
	}
}

// SeverityHook adds the field Cloud Logging reads the level from.
type SeverityHook struct{}

func (h SeverityHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}
