package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NodeLogger returns the process logger tagged with the local node id and
// installs it as the package-level zerolog logger.
func NodeLogger(app string, nodeID int32) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Int32("node", nodeID).Logger()
	log.Logger = logger
	return logger
}
