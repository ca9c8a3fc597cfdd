package mediagraph

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// newLogger derives a component logger from base, or from the global
// logger when base is nil.
func newLogger(base *zerolog.Logger, submodule string) zerolog.Logger {
	if base == nil {
		return log.With().
			Str("module", "mediagraph").
			Str("submodule", submodule).Logger()
	}
	return base.With().
		Str("submodule", submodule).Logger()
}
