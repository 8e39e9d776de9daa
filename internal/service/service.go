package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/location"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// WeatherService answers weather lookups from the cache store, filling
// misses from the forecast and geocode upstreams. Control flow is
// one-directional: handler -> service -> store -> (miss) -> clients ->
// store write. The store is never held locked across an upstream call.
type WeatherService struct {
	forecast  client.ForecastClient
	geocode   client.GeocodeClient
	store     cache.Store
	ttl       time.Duration
	coalescer *coalescer // nil when coalescing is disabled
}

// NewWeatherService creates a WeatherService. ttl is the single
// freshness constant for the whole cache. Coalescing of concurrent
// misses for the same key is opt-in; without it, concurrent misses each
// fetch upstream and the later insert silently wins, which is accepted
// because close-in-time records for one key are interchangeable.
func NewWeatherService(forecast client.ForecastClient, geocode client.GeocodeClient, store cache.Store, ttl time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *WeatherService {
	var co *coalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		co = newCoalescer(coalesceTimeout)
	}
	return &WeatherService{
		forecast:  forecast,
		geocode:   geocode,
		store:     store,
		ttl:       ttl,
		coalescer: co,
	}
}

// TTL returns the configured record time-to-live.
func (s *WeatherService) TTL() time.Duration {
	return s.ttl
}

// loggerFromContext extracts the request-scoped zap.Logger if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWeather returns the current weather record for (lat, lon) in
// canonical Celsius. The store is pruned of expired entries first, then
// consulted; on a miss both upstreams are called and the assembled
// record is inserted before being returned. Store failures and upstream
// failures both abort the request; no partial record is ever cached.
func (s *WeatherService) GetWeather(ctx context.Context, lat, lon float64) (models.Weather, error) {
	key := location.Key(lat, lon)
	start := time.Now()
	logger := loggerFromContext(ctx)

	pruneStart := time.Now()
	removed, err := s.store.Prune(ctx, s.ttl)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("prune").Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("prune", "error").Observe(time.Since(pruneStart).Seconds())
		return models.Weather{}, fmt.Errorf("prune cache: %w", err)
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("prune", "success").Observe(time.Since(pruneStart).Seconds())
	if removed > 0 {
		observability.CachePrunedEntriesTotal.Add(float64(removed))
		if logger != nil {
			logger.Debug("pruned expired cache entries", zap.Int64("removed", removed))
		}
	}

	lookupStart := time.Now()
	cached, ok, err := s.store.Lookup(ctx, key, s.ttl)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("lookup").Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("lookup", "error").Observe(time.Since(lookupStart).Seconds())
		return models.Weather{}, fmt.Errorf("lookup weather for %s: %w", key, err)
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("lookup", "success").Observe(time.Since(lookupStart).Seconds())
	if ok {
		observability.CacheHitsTotal.Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key))
			logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	observability.CacheMissesTotal.Inc()
	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	var record models.Weather
	if s.coalescer != nil {
		record, err = s.coalescer.Do(ctx, key, func() (models.Weather, error) {
			return s.fetchAndStore(ctx, key, lat, lon)
		})
	} else {
		record, err = s.fetchAndStore(ctx, key, lat, lon)
	}
	if err != nil {
		return models.Weather{}, err
	}
	if logger != nil {
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return record, nil
}

// fetchAndStore calls both upstreams concurrently, assembles a record,
// and inserts it under key. The record becomes visible to other readers
// only after both calls succeeded and the insert completed; a failure
// of either upstream caches nothing.
func (s *WeatherService) fetchAndStore(ctx context.Context, key string, lat, lon float64) (models.Weather, error) {
	var (
		conditions client.CurrentConditions
		place      string
		fcErr      error
		geoErr     error
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conditions, fcErr = s.forecast.Fetch(ctx, lat, lon)
	}()
	go func() {
		defer wg.Done()
		place, geoErr = s.geocode.Reverse(ctx, lat, lon)
	}()
	wg.Wait()

	if fcErr != nil {
		return models.Weather{}, fmt.Errorf("fetch forecast for %s: %w", key, fcErr)
	}
	if geoErr != nil {
		return models.Weather{}, fmt.Errorf("reverse geocode %s: %w", key, geoErr)
	}

	record := models.Weather{
		ID:                       key,
		Location:                 place,
		Temperature2m:            conditions.Temperature2m,
		WindSpeed10m:             conditions.WindSpeed10m,
		WeatherCode:              conditions.WeatherCode,
		RelativeHumidity2m:       conditions.RelativeHumidity2m,
		ApparentTemperature:      conditions.ApparentTemperature,
		PrecipitationProbability: conditions.PrecipitationProbability,
		CreatedAt:                time.Now().UTC(),
	}

	insertStart := time.Now()
	if err := s.store.Insert(ctx, key, record, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("insert").Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("insert", "error").Observe(time.Since(insertStart).Seconds())
		return models.Weather{}, fmt.Errorf("insert weather for %s: %w", key, err)
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("insert", "success").Observe(time.Since(insertStart).Seconds())
	return record, nil
}
