package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the process logger tagged with component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

func Tracef(format string, args ...any) {
	log.Logger.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Logger.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Logger.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	log.Logger.Error().Msgf(format, args...)
}
