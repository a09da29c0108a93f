package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy-service/internal/cache"
	"github.com/kjstillabower/weather-proxy-service/internal/client"
	"github.com/kjstillabower/weather-proxy-service/internal/config"
	"github.com/kjstillabower/weather-proxy-service/internal/events"
	httphandler "github.com/kjstillabower/weather-proxy-service/internal/http"
	"github.com/kjstillabower/weather-proxy-service/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy-service/internal/observability"
	"github.com/kjstillabower/weather-proxy-service/internal/service"
	"github.com/kjstillabower/weather-proxy-service/internal/store"
	"github.com/kjstillabower/weather-proxy-service/internal/traffic"
)

const (
	degradedMinSamples    = 10
	inFlightCheckInterval = 100 * time.Millisecond
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	repo, err := store.New(db)
	if err != nil {
		logger.Fatal("schema migration", zap.Error(err))
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Warn("database not reachable at startup", zap.Error(err))
	}
	pingCancel()

	weatherClient := client.NewWeatherAPIClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if !weatherClient.Configured() {
		logger.Warn("WEATHER_API_KEY not set; lookups that need the provider will fail")
	}

	var (
		frontCache cache.Cache
		closers    []func() error
	)
	switch cfg.CacheBackend {
	case config.CacheBackendInMemory:
		frontCache = cache.NewInMemoryCache()
	case config.CacheBackendMemcached:
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		frontCache = mc
		closers = append(closers, mc.Close)
	case config.CacheBackendRedis:
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		frontCache = rc
		closers = append(closers, rc.Close)
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))
	var cachePing func(context.Context) error
	if p, ok := frontCache.(cache.Pinger); ok {
		cachePing = p.Ping
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled() {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatal("kafka publisher", zap.Error(err))
		}
		publisher = kp
		closers = append(closers, func() error { kp.Close(); return nil })
		logger.Info("record events enabled", zap.String("topic", cfg.KafkaTopic))
	}

	weatherService := service.NewWeatherService(weatherClient, repo, service.Options{
		FreshnessWindow: cfg.FreshnessWindow,
		Cache:           frontCache,
		Publisher:       publisher,
		Coalesce:        cfg.CoalesceResolves,
		MaxCityLength:   cfg.MaxCityLength,
	})

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:     cfg.DegradedWindow,
		DegradedErrorPct:   cfg.DegradedErrorPct,
		DegradedMinSamples: degradedMinSamples,
		StorePing:          repo.Ping,
		CachePing:          cachePing,
		APIKeyConfigured:   cfg.APIKeyConfigured(),
	}
	handler := httphandler.NewHandler(weatherService, traffic.NewTracker(), healthConfig, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger, cfg.CORSAllowedOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Duration("freshness_window", weatherService.FreshnessWindow()),
			zap.String("cors_origin", cfg.CORSAllowedOrigin))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close dependency", zap.Error(err))
		}
	}
	if err := repo.Close(); err != nil {
		logger.Error("database close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
