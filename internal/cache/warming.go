package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// Coordinate is one tracked (lat, lon) pair to keep warm.
type Coordinate struct {
	Lat float64
	Lon float64
}

// WeatherFetcher is implemented by the service layer. Declared here so
// the warmer does not depend on the service package.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, lat, lon float64) (models.Weather, error)
}

// Warmer populates the cache by prefetching weather for a list of
// tracked coordinates, so the first real request for a popular cell is
// already a hit.
type Warmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher WeatherFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches weather for each coordinate concurrently, populating the
// cache via the fetcher. Returns an aggregated error if any failed.
func (w *Warmer) Warm(ctx context.Context, coords []Coordinate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("coordinates", len(coords)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(coords))
	for _, c := range coords {
		wg.Add(1)
		go func(c Coordinate) {
			defer wg.Done()
			if _, err := w.fetcher.GetWeather(ctx, c.Lat, c.Lon); err != nil {
				errCh <- fmt.Errorf("warm (%v,%v): %w", c.Lat, c.Lon, err)
			}
		}(c)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("coordinates", len(coords)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given
// interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, coords []Coordinate, interval time.Duration) error {
	if err := w.Warm(ctx, coords); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, coords); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
