package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy-service/internal/cache"
	"github.com/kjstillabower/weather-proxy-service/internal/client"
	"github.com/kjstillabower/weather-proxy-service/internal/events"
	"github.com/kjstillabower/weather-proxy-service/internal/models"
	"github.com/kjstillabower/weather-proxy-service/internal/observability"
	"github.com/kjstillabower/weather-proxy-service/internal/store"
	"github.com/kjstillabower/weather-proxy-service/internal/validation"
)

// DefaultFreshnessWindow is how long a stored observation is served without a new upstream call.
const DefaultFreshnessWindow = 30 * time.Minute

const searchNotFoundMessage = "No data found in DB for this city"

// Options configures a WeatherService. Zero values select defaults.
type Options struct {
	// FreshnessWindow defaults to DefaultFreshnessWindow.
	FreshnessWindow time.Duration
	// Cache is an optional front layer consulted before the store.
	Cache cache.Cache
	// Publisher receives every inserted record. Defaults to events.NopPublisher.
	Publisher events.Publisher
	// Coalesce runs at most one resolve per normalized city at a time.
	Coalesce bool
	// MaxCityLength bounds queries in runes; defaults to validation.DefaultMaxCityLength.
	MaxCityLength int
	// Now defaults to time.Now.
	Now func() time.Time
}

// WeatherService implements fetch-or-cache resolution over a record store and
// the upstream provider, plus the list and search queries.
type WeatherService struct {
	client          client.WeatherClient
	store           store.Store
	cache           cache.Cache
	publisher       events.Publisher
	window          time.Duration
	maxCityLen      int
	now             func() time.Time
	coalescer       *resolveCoalescer
	stampedeTracker *stampedeTracker
}

// NewWeatherService creates a WeatherService with the provided dependencies.
func NewWeatherService(client client.WeatherClient, store store.Store, opts Options) *WeatherService {
	s := &WeatherService{
		client:          client,
		store:           store,
		cache:           opts.Cache,
		publisher:       opts.Publisher,
		window:          opts.FreshnessWindow,
		maxCityLen:      opts.MaxCityLength,
		now:             opts.Now,
		stampedeTracker: newStampedeTracker(),
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.window <= 0 {
		s.window = DefaultFreshnessWindow
	}
	if s.maxCityLen <= 0 {
		s.maxCityLen = validation.DefaultMaxCityLength
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Coalesce {
		s.coalescer = newResolveCoalescer()
	}
	return s
}

// FreshnessWindow returns the configured window.
func (s *WeatherService) FreshnessWindow() time.Duration {
	return s.window
}

// Resolve returns a record for cityQuery no older than the freshness window,
// fetching and storing a new observation when none exists.
func (s *WeatherService) Resolve(ctx context.Context, cityQuery string) (models.WeatherRecord, error) {
	query, err := validation.ValidateCity(cityQuery, s.maxCityLen)
	if err != nil {
		observability.ResolveOutcomesTotal.WithLabelValues("invalid").Inc()
		return models.WeatherRecord{}, invalidInput(err)
	}
	key := normalizeCity(query)
	observability.RecordWeatherQuery(key)

	if s.coalescer == nil {
		return s.resolve(ctx, query, key)
	}
	rec, shared, err := s.coalescer.Do(ctx, key, func(ctx context.Context) (models.WeatherRecord, error) {
		return s.resolve(ctx, query, key)
	})
	if shared {
		observability.CoalescedResolvesTotal.Inc()
		observability.LoggerFromContext(ctx).Debug("resolve coalesced", zap.String("city", key))
	}
	return rec, err
}

func (s *WeatherService) resolve(ctx context.Context, query, key string) (models.WeatherRecord, error) {
	logger := observability.LoggerFromContext(ctx)
	start := time.Now()
	cutoff := s.now().UTC().Add(-s.window)

	if rec, ok := s.frontGet(ctx, key, cutoff); ok {
		observability.CacheHitsTotal.WithLabelValues("front").Inc()
		observability.ResolveOutcomesTotal.WithLabelValues("cache_hit").Inc()
		logger.Debug("weather served", zap.String("city", key), zap.String("source", "front_cache"), zap.Duration("duration", time.Since(start)))
		return rec, nil
	}

	rec, ok, err := s.findFresh(ctx, key, cutoff)
	if err != nil {
		observability.ResolveOutcomesTotal.WithLabelValues("storage_error").Inc()
		logger.Error("fresh lookup failed", zap.String("city", key), zap.Error(err))
		return models.WeatherRecord{}, storageError("find fresh record", err)
	}
	if ok {
		observability.CacheHitsTotal.WithLabelValues("store").Inc()
		observability.ResolveOutcomesTotal.WithLabelValues("fresh_hit").Inc()
		s.frontSet(ctx, key, rec)
		logger.Debug("weather served", zap.String("city", key), zap.String("source", "store"), zap.Duration("duration", time.Since(start)))
		return rec, nil
	}

	concurrent, done := s.stampedeTracker.begin(key)
	defer done()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricLocationLabel(key)).Inc()
	}
	logger.Debug("no fresh record, fetching upstream", zap.String("city", key))

	obs, err := s.client.FetchCurrent(ctx, query)
	if err != nil {
		return models.WeatherRecord{}, s.upstreamFailure(ctx, key, err)
	}

	rec = models.WeatherRecord{
		NormalizedCity: key,
		DisplayCity:    obs.City,
		TemperatureC:   obs.TemperatureC,
		Condition:      obs.Condition,
		ObservedAt:     s.now().UTC(),
	}
	if err := s.insert(ctx, &rec); err != nil {
		observability.ResolveOutcomesTotal.WithLabelValues("storage_error").Inc()
		logger.Error("insert failed", zap.String("city", key), zap.Error(err))
		return models.WeatherRecord{}, storageError("insert record", err)
	}

	s.frontSet(ctx, key, rec)
	s.publish(ctx, rec)
	observability.ResolveOutcomesTotal.WithLabelValues("fetched").Inc()
	logger.Info("weather fetched",
		zap.String("city", key),
		zap.String("display_city", rec.DisplayCity),
		zap.String("record_id", rec.ID.String()),
		zap.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

// upstreamFailure maps a client error to the service taxonomy.
func (s *WeatherService) upstreamFailure(ctx context.Context, key string, err error) error {
	logger := observability.LoggerFromContext(ctx)
	category := client.CategorizeError(err)
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(category)).Inc()

	var rejected *client.RejectedError
	var unavailable *client.UnavailableError
	switch {
	case errors.Is(err, client.ErrMissingAPIKey):
		observability.ResolveOutcomesTotal.WithLabelValues("config_error").Inc()
		logger.Error("weather API key not configured")
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	case errors.As(err, &rejected):
		observability.ResolveOutcomesTotal.WithLabelValues("not_found").Inc()
		logger.Info("upstream rejected city", zap.String("city", key), zap.Int("code", rejected.Code))
		msg := rejected.Message
		if msg == "" {
			msg = "city not found"
		}
		return &NotFoundError{Message: msg}
	case errors.As(err, &unavailable):
		observability.ResolveOutcomesTotal.WithLabelValues("upstream_error").Inc()
		logger.Warn("upstream unavailable",
			zap.String("city", key),
			zap.Int("status_code", unavailable.StatusCode),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return &UpstreamError{StatusCode: unavailable.StatusCode, Message: unavailable.Message, Err: err}
	default:
		observability.ResolveOutcomesTotal.WithLabelValues("upstream_error").Inc()
		logger.Warn("upstream call failed", zap.String("city", key), zap.Error(err))
		return &UpstreamError{Message: err.Error(), Err: err}
	}
}

// List returns every stored record, newest first.
func (s *WeatherService) List(ctx context.Context) ([]models.WeatherRecord, error) {
	start := time.Now()
	rows, err := s.store.ListAll(ctx)
	observeStore("list_all", start, err)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("list failed", zap.Error(err))
		return nil, storageError("list records", err)
	}
	return rows, nil
}

// Search returns records whose display city contains city, case-insensitively,
// newest first. Zero matches is ErrNotFound.
func (s *WeatherService) Search(ctx context.Context, city string) ([]models.WeatherRecord, error) {
	query, err := validation.ValidateCity(city, s.maxCityLen)
	if err != nil {
		return nil, invalidInput(err)
	}
	start := time.Now()
	rows, err := s.store.SearchByCity(ctx, query)
	observeStore("search", start, err)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("search failed", zap.String("query", query), zap.Error(err))
		return nil, storageError("search records", err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Message: searchNotFoundMessage}
	}
	return rows, nil
}

func (s *WeatherService) findFresh(ctx context.Context, key string, cutoff time.Time) (models.WeatherRecord, bool, error) {
	start := time.Now()
	rec, ok, err := s.store.FindFresh(ctx, key, cutoff)
	observeStore("find_fresh", start, err)
	return rec, ok, err
}

func (s *WeatherService) insert(ctx context.Context, rec *models.WeatherRecord) error {
	start := time.Now()
	err := s.store.Insert(ctx, rec)
	observeStore("insert", start, err)
	return err
}

func observeStore(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.StoreOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// frontGet consults the optional front cache. Entries older than cutoff or
// stored for a different city are ignored; cache errors are counted and
// treated as a miss.
func (s *WeatherService) frontGet(ctx context.Context, key string, cutoff time.Time) (models.WeatherRecord, bool) {
	if s.cache == nil {
		return models.WeatherRecord{}, false
	}
	rec, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.LoggerFromContext(ctx).Warn("cache get failed", zap.String("city", key), zap.Error(err))
		return models.WeatherRecord{}, false
	}
	if !ok || rec.ObservedAt.Before(cutoff) {
		return models.WeatherRecord{}, false
	}
	if rec.NormalizedCity != key {
		observability.CacheErrorsTotal.WithLabelValues("get", "key_mismatch").Inc()
		observability.LoggerFromContext(ctx).Warn("cache returned record for another city",
			zap.String("city", key), zap.String("cached_city", rec.NormalizedCity))
		return models.WeatherRecord{}, false
	}
	return rec, true
}

// frontSet stores rec for the remainder of its freshness window.
func (s *WeatherService) frontSet(ctx context.Context, key string, rec models.WeatherRecord) {
	if s.cache == nil {
		return
	}
	ttl := rec.ObservedAt.Add(s.window).Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, rec, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("city", key), zap.Error(err))
	}
}

func (s *WeatherService) publish(ctx context.Context, rec models.WeatherRecord) {
	if _, nop := s.publisher.(events.NopPublisher); nop {
		return
	}
	if err := s.publisher.Publish(ctx, rec); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		observability.LoggerFromContext(ctx).Warn("publish record event failed", zap.String("record_id", rec.ID.String()), zap.Error(err))
		return
	}
	observability.EventsPublishedTotal.WithLabelValues("success").Inc()
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "dial") {
		return "connection"
	}
	return "unknown"
}

// normalizeCity produces the lookup key: trimmed and lowercased.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
