package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component creates a logger from the global logger tagged with a
// component name, the same key services use for their injected loggers.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
