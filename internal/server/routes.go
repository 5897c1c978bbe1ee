package server

import (
	"log/slog"
	"net/http"

	"github.com/kimnnmadsen/osmium/internal/engine"
	engineHandlers "github.com/kimnnmadsen/osmium/internal/engine/handlers"
	"github.com/kimnnmadsen/osmium/internal/loadout"
	loadoutHandlers "github.com/kimnnmadsen/osmium/internal/loadout/handlers"
	serverHandlers "github.com/kimnnmadsen/osmium/internal/server/handlers"
	"github.com/kimnnmadsen/osmium/internal/shared/database"
	"github.com/kimnnmadsen/osmium/internal/shared/redis"
	"github.com/kimnnmadsen/osmium/internal/skills"
)

type Routes struct {
	db             *database.DB
	cache          *redis.Client
	loadoutService *loadout.Service
	engine         *engine.Engine
	resolver       *skills.Resolver
	logger         *slog.Logger
}

func NewRoutes(db *database.DB, cache *redis.Client, loadoutService *loadout.Service, eng *engine.Engine, resolver *skills.Resolver, logger *slog.Logger) *Routes {
	return &Routes{
		db:             db,
		cache:          cache,
		loadoutService: loadoutService,
		engine:         eng,
		resolver:       resolver,
		logger:         logger,
	}
}

func (r *Routes) Setup() *http.ServeMux {
	logger := slog.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up application routes")

	mux := http.NewServeMux()

	healthHandler := serverHandlers.NewHealthHandler(r.db, r.cache)
	loadoutHandler := loadoutHandlers.NewLoadoutHandler(r.loadoutService)
	statsHandler := engineHandlers.NewStatsHandler(r.engine, r.resolver)

	mux.Handle("/api/server/health", healthHandler)

	mux.HandleFunc("/api/loadouts", loadoutHandler.CreateLoadout)
	mux.HandleFunc("/api/loadouts/{id}", loadoutHandler.GetLoadout)
	mux.HandleFunc("/api/fittings/{hash}", loadoutHandler.GetFitting)
	mux.HandleFunc("/api/fittings/{hash1}/delta/{hash2}", loadoutHandler.GetDelta)

	mux.HandleFunc("/api/fit/stats", statsHandler.ComputeStats)

	logger.Info("Routes configured successfully",
		"endpoints", []string{
			"/api/server/health",
			"/api/loadouts",
			"/api/loadouts/{id}",
			"/api/fittings/{hash}",
			"/api/fittings/{hash1}/delta/{hash2}",
			"/api/fit/stats",
		},
	)

	return mux
}
