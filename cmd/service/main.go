package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/config"
	internalhttp "github.com/kjstillabower/weather-cache-service/internal/http"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
)

func main() {
	// .env is optional; real deployments set env directly.
	_ = godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	forecast, err := client.NewOpenMeteoClient(cfg.ForecastAPIURL, cfg.ForecastTimeout)
	if err != nil {
		logger.Fatal("failed to create forecast client", zap.Error(err))
	}
	geocode, err := client.NewLocationIQClient(cfg.GeocodeAPIKey, cfg.GeocodeAPIURL, cfg.GeocodeTimeout)
	if err != nil {
		logger.Fatal("failed to create geocode client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		forecast.SetCircuitBreaker(newBreaker("forecast", cfg, logger))
		geocode.SetCircuitBreaker(newBreaker("geocode", cfg, logger))
		logger.Info("circuit breakers enabled",
			zap.Int("failureThreshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open cache store", zap.Error(err))
	}

	weatherService := service.NewWeatherService(forecast, geocode, store,
		cfg.CacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	if cfg.WarmCache {
		coords := make([]cache.Coordinate, 0, len(cfg.TrackedCoordinates))
		for _, c := range cfg.TrackedCoordinates {
			coords = append(coords, cache.Coordinate{Lat: c.Lat, Lon: c.Lon})
		}
		warmer := cache.NewWarmer(weatherService, logger)
		go func() {
			if cfg.WarmInterval > 0 {
				if err := warmer.WarmPeriodic(ctx, coords, cfg.WarmInterval); err != nil && ctx.Err() == nil {
					logger.Warn("periodic cache warming stopped", zap.Error(err))
				}
				return
			}
			if err := warmer.Warm(ctx, coords); err != nil {
				logger.Warn("cache warming incomplete", zap.Error(err))
			}
		}()
	}

	handler := internalhttp.NewHandler(weatherService, geocode, logger, store.Ping)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := internalhttp.NewRouter(handler, logger, limiter, cfg.RequestTimeout, observability.MetricsHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("cacheBackend", cfg.CacheBackend),
			zap.Duration("cacheTTL", cfg.CacheTTL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal("server failed", zap.Error(err))
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining")
	lifecycle.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
	if err := internalhttp.WaitForInFlight(drainCtx, cfg.ShutdownDrainCheckInterval); err != nil {
		logger.Warn("in-flight requests did not drain",
			zap.Int64("remaining", internalhttp.InFlightCount()), zap.Error(err))
	}
	drainCancel()

	if err := store.Close(); err != nil {
		logger.Warn("cache store close error", zap.Error(err))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = observability.FlushTelemetry(flushCtx, logger)
	flushCancel()
}

// openStore builds the configured cache backend. All three implement
// the same Store contract; the service layer does not know which one
// it is talking to.
func openStore(cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "sqlite":
		logger.Info("using sqlite cache store", zap.String("path", cfg.SQLitePath))
		return cache.OpenSQLiteStore(cfg.SQLitePath)
	case "memcached":
		logger.Info("using memcached cache store", zap.String("addrs", cfg.MemcachedAddrs))
		return cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	default:
		logger.Info("using in-memory cache store")
		return cache.NewInMemoryStore(), nil
	}
}

func newBreaker(component string, cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(component, from.String(), to.String()).Inc()
		},
	})
}
