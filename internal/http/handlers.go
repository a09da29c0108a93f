package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy-service/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy-service/internal/models"
	"github.com/kjstillabower/weather-proxy-service/internal/observability"
	"github.com/kjstillabower/weather-proxy-service/internal/service"
	"github.com/kjstillabower/weather-proxy-service/internal/traffic"
	"github.com/kjstillabower/weather-proxy-service/internal/validation"
)

// Messages returned in the "message" field of error bodies.
const (
	msgCityRequired   = "City is required"
	msgInvalidCity    = "Invalid city"
	msgFetchFailed    = "Error fetching weather"
	msgListFailed     = "Error fetching stored weather"
	msgSearchFailed   = "Error searching weather"
	msgStorageFailure = "storage unavailable"
	msgMisconfigured  = "weather provider not configured"
)

// WeatherService is the subset of service.WeatherService used by the handlers.
type WeatherService interface {
	Resolve(ctx context.Context, city string) (models.WeatherRecord, error)
	List(ctx context.Context) ([]models.WeatherRecord, error)
	Search(ctx context.Context, city string) ([]models.WeatherRecord, error)
}

// HealthConfig holds dependency checks and thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int
	// StorePing is required; an unreachable store makes the service unhealthy.
	StorePing func(ctx context.Context) error
	// CachePing, when set, reports front cache reachability. A failing cache
	// does not change the overall status since resolves fall through to the store.
	CachePing func(ctx context.Context) error
	// APIKeyConfigured is false when the service started without an upstream key.
	APIKeyConfigured bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   WeatherService
	tracker          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and healthConfig may be nil.
func NewHandler(weatherService WeatherService, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker()
	}
	return &Handler{
		weatherService: weatherService,
		tracker:        tracker,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// GetWeather handles GET /weather?city=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	rec, err := h.weatherService.Resolve(r.Context(), r.URL.Query().Get("city"))
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err, msgFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListWeather handles GET /weather/all.
func (h *Handler) ListWeather(w http.ResponseWriter, r *http.Request) {
	rows, err := h.weatherService.List(r.Context())
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err, msgListFailed)
		return
	}
	if rows == nil {
		rows = []models.WeatherRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// SearchWeather handles GET /weather/search?city=.
func (h *Handler) SearchWeather(w http.ResponseWriter, r *http.Request) {
	rows, err := h.weatherService.Search(r.Context(), r.URL.Query().Get("city"))
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err, msgSearchFailed)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// recordOutcome feeds the error-rate window. Caller mistakes (4xx) count as successes.
func (h *Handler) recordOutcome(err error) {
	if err == nil || errors.Is(err, service.ErrInvalidInput) || errors.Is(err, service.ErrNotFound) {
		h.tracker.RecordSuccess()
		return
	}
	h.tracker.RecordError()
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in priority order: shutting-down > store
// unreachable > degraded error rate > healthy. Informational checks (cache,
// API key) are always reported.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
	cfg := h.healthConfig

	if cfg.APIKeyConfigured {
		checks["weatherApiKey"] = "configured"
	} else {
		checks["weatherApiKey"] = "missing"
	}
	if cfg.CachePing != nil {
		checks["cache"] = pingStatus(ctx, cfg.CachePing)
	}
	if cfg.StorePing != nil {
		checks["store"] = pingStatus(ctx, cfg.StorePing)
		if checks["store"] != "healthy" {
			return healthResult{"unhealthy", http.StatusServiceUnavailable, "store_unreachable", checks}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 &&
		h.tracker.Degraded(cfg.DegradedWindow, cfg.DegradedErrorPct, cfg.DegradedMinSamples) {
		checks["errorRate"] = "unhealthy"
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	}
	checks["errorRate"] = "healthy"
	return healthResult{"healthy", http.StatusOK, "", checks}
}

func pingStatus(ctx context.Context, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ping(ctx); err != nil {
		observability.LoggerFromContext(ctx).Warn("health ping failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error body carrying the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, message, detail string) {
	writeJSON(w, status, errorBody{
		Message:   message,
		Error:     detail,
		RequestID: observability.CorrelationIDFromContext(r.Context()),
	})
}

// writeServiceError translates a service error into a status code and body.
// fallback is the message used for server-side failures on this endpoint.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, message, detail := classifyError(err, fallback)
	logger := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, r, status, message, detail)
}

func classifyError(err error, fallback string) (status int, message, detail string) {
	var notFound *service.NotFoundError
	var upstream *service.UpstreamError
	switch {
	case errors.Is(err, validation.ErrCityEmpty):
		return http.StatusBadRequest, msgCityRequired, ""
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, msgInvalidCity, err.Error()
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Message, ""
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Not found", ""
	case errors.As(err, &upstream):
		status = http.StatusInternalServerError
		if upstream.StatusCode >= 400 && upstream.StatusCode <= 599 {
			status = upstream.StatusCode
		}
		return status, fallback, upstream.Message
	case errors.Is(err, service.ErrConfiguration):
		return http.StatusInternalServerError, fallback, msgMisconfigured
	case errors.Is(err, service.ErrStorage):
		return http.StatusInternalServerError, fallback, msgStorageFailure
	default:
		return http.StatusInternalServerError, fallback, ""
	}
}
