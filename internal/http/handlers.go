package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	geocode        client.GeocodeClient
	logger         *zap.Logger
	// cachePing, when set, checks cache backend reachability for the
	// health endpoint. Nil for the in-memory backend.
	cachePing func() error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, geocode client.GeocodeClient, logger *zap.Logger, cachePing func() error) *Handler {
	return &Handler{
		weatherService: weatherService,
		geocode:        geocode,
		logger:         logger,
		cachePing:      cachePing,
	}
}

// GetWeather handles GET /weather?lat=<float>&lon=<float>&unit=<C|F>.
// Malformed input is rejected before any cache or network work; the
// unit conversion applies to a response copy only.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	lat, err := validation.ParseLatitude(query.Get("lat"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	lon, err := validation.ParseLongitude(query.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	unit, err := validation.ParseUnit(query.Get("unit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	observability.WeatherQueriesTotal.Inc()
	record, err := h.weatherService.GetWeather(r.Context(), lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record.InUnit(unit))
}

// healthResult holds the computed health status, the per-dependency
// check outcomes, and metadata for logging.
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

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-cache-service",
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus runs each dependency check exactly once and
// derives the overall status in priority order: shutting-down > cache
// unreachable > geocode key invalid > healthy. While draining, the
// dependency checks are skipped entirely.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}

	cacheOK := true
	if h.cachePing != nil {
		if err := h.cachePing(); err != nil {
			cacheOK = false
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}
	}
	geocodeOK := true
	if h.geocode != nil {
		if err := h.geocode.ValidateAPIKey(ctx); err != nil {
			geocodeOK = false
			checks["geocodeApi"] = "unhealthy"
		} else {
			checks["geocodeApi"] = "healthy"
		}
	}

	switch {
	case !cacheOK:
		return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable", checks}
	case !geocodeOK:
		return healthResult{"degraded", http.StatusServiceUnavailable, "geocode_api_key_invalid", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard envelope with
// code, message, and requestId (correlation ID) when present.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for upstream and cache-store failures.
// The two classes deliberately share one external error code; callers
// cannot tell a provider outage from a cache outage by the response.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "WEATHER_UNAVAILABLE", "Unable to fetch weather data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("weather request failed", zap.Error(err))
	}
}
