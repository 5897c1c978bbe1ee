package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/kimnnmadsen/osmium/internal/dogma"
	"github.com/kimnnmadsen/osmium/internal/engine"
	"github.com/kimnnmadsen/osmium/internal/loadout"
	"github.com/kimnnmadsen/osmium/internal/middleware"
	"github.com/kimnnmadsen/osmium/internal/server"
	"github.com/kimnnmadsen/osmium/internal/shared/config"
	"github.com/kimnnmadsen/osmium/internal/shared/database"
	"github.com/kimnnmadsen/osmium/internal/shared/logger"
	"github.com/kimnnmadsen/osmium/internal/shared/redis"
	"github.com/kimnnmadsen/osmium/internal/skills"
)

func main() {
	if err := config.Init(); err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Init()
	log := slog.With("component", "main")

	db, err := database.Connect()
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	cache, err := redis.Connect()
	if err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	typeDB := dogma.NewRepository(db, slog.Default())
	eng := engine.New(typeDB, slog.Default())
	resolver := skills.NewResolver(typeDB, slog.Default())

	loadoutRepo := loadout.NewRepository(db, slog.Default())
	loadoutService := loadout.NewService(db, loadoutRepo, cache, eng, slog.Default())

	routes := server.NewRoutes(db, cache, loadoutService, eng, resolver, slog.Default())
	mux := routes.Setup()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Enabled:           config.GlobalConfig.RateLimit.Enabled,
		RequestsPerSecond: config.GlobalConfig.RateLimit.RequestsPerSecond,
		BurstSize:         config.GlobalConfig.RateLimit.BurstSize,
	})
	cors := middleware.NewCORS()

	handler := cors.Middleware(rateLimiter.Middleware(mux))

	srv := &http.Server{
		Addr:         ":" + config.GlobalConfig.Server.Port,
		Handler:      handler,
		ReadTimeout:  config.GlobalConfig.Server.ReadTimeout,
		WriteTimeout: config.GlobalConfig.Server.WriteTimeout,
		IdleTimeout:  config.GlobalConfig.Server.IdleTimeout,
	}

	log.Info("Server starting", "port", config.GlobalConfig.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
