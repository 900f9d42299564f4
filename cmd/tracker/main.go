package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tracker/internal/cache"
	"tracker/internal/cli"
	apphttp "tracker/internal/http"
	"tracker/internal/log"
	"tracker/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg, log.ComponentApp)

	// Validate already rejected unknown zones.
	loc, _ := cfg.Location()

	res := cli.InitBackend(context.Background(), logger, cfg)

	cacheManager := cache.NewManager()
	var dashboardCache cache.Cache[*services.Dashboard]
	if cfg.CacheSize > 0 {
		lru := cache.NewLRUCache[*services.Dashboard](cfg.CacheSize, cfg.CacheTTL)
		cacheManager.Register(lru)
		cacheManager.StartCleanup(cfg.CacheTTL)
		dashboardCache = lru
	}

	stats := services.NewAggregator(res.Store, loc)
	dashboards := services.NewDashboardService(stats, dashboardCache)
	records := services.NewRecordService(res.Store, res.Publisher,
		services.WithLocation(loc),
		services.WithLogger(logger),
		services.OnChange(dashboards.Invalidate))

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Records:        records,
		Stats:          stats,
		Dashboards:     dashboards,
		Logger:         logger,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("Starting tracker server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"timezone", loc.String(),
			"change_events", res.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
