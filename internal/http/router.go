package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRouter builds the service router. Correlation ID and metrics
// middleware cover every route; the request timeout and rate limiter
// apply only to /weather, so an exhausted limiter or a slow upstream
// never takes /health probes down with it.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	weather := router.PathPrefix("/weather").Subrouter()
	weather.Use(TimeoutMiddleware(requestTimeout))
	weather.Use(RateLimitMiddleware(limiter))
	weather.HandleFunc("", h.GetWeather).Methods(http.MethodGet)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics).Methods(http.MethodGet)

	return router
}
