package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy-service/internal/observability"
)

// NewRouter registers the weather, health and metrics routes. The sub-paths
// are registered before /weather so a literal "all" or "search" is never
// taken as a city.
func NewRouter(h *Handler, logger *zap.Logger, corsOrigin string) http.Handler {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.HandleFunc("/weather/all", h.ListWeather).Methods(http.MethodGet)
	r.HandleFunc("/weather/search", h.SearchWeather).Methods(http.MethodGet)
	r.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	return CORSMiddleware(corsOrigin)(r)
}
