// Package engine derives combat and economic statistics from a fit: damage
// per second, effective hit points, estimated price. Every operation is a
// pure function of the fit and the static type database; results are safe
// to memoize by (content hash, skillset name).
package engine

import (
	"log/slog"

	"github.com/kimnnmadsen/osmium/internal/dogma"
)

type Engine struct {
	db     dogma.TypeDB
	logger *slog.Logger
}

func New(db dogma.TypeDB, logger *slog.Logger) *Engine {
	logger.Debug("Initializing stat engine")

	return &Engine{
		db:     db,
		logger: logger,
	}
}
