//go:build integration

// Package testhelpers builds real dependency graphs for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy-service/internal/cache"
	"github.com/kjstillabower/weather-proxy-service/internal/client"
	"github.com/kjstillabower/weather-proxy-service/internal/service"
	"github.com/kjstillabower/weather-proxy-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	DatabaseURL   string
	CacheBackend  string // "", "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from the environment.
// Skips the test if WEATHER_API_KEY is not set. DatabaseURL defaults to an
// in-memory SQLite database private to the test.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	dbURL := os.Getenv("INTEGRATION_DATABASE_URL")
	if dbURL == "" {
		dbURL = "file:integration_" + t.Name() + "?mode=memory&cache=shared"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        os.Getenv("WEATHER_API_URL"),
		DatabaseURL:   dbURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		RedisURL:      redisURL,
	}
}

// SetupIntegrationService wires the real client, store and optional front cache.
// Cleanup is registered on t.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *store.Repo) {
	t.Helper()
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	var front cache.Cache
	switch cfg.CacheBackend {
	case "in_memory":
		front = cache.NewInMemoryCache()
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		t.Cleanup(func() { _ = mc.Close() })
		front = mc
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			t.Fatalf("NewRedisCache() error = %v", err)
		}
		t.Cleanup(func() { _ = rc.Close() })
		front = rc
	}
	t.Logf("front cache backend: %q", cfg.CacheBackend)

	weatherClient := client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	return service.NewWeatherService(weatherClient, repo, service.Options{Cache: front}), repo
}
