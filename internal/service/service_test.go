package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/models"
)

type fakeForecast struct {
	calls      atomic.Int64
	conditions client.CurrentConditions
	err        error
	delay      time.Duration
}

func (f *fakeForecast) Fetch(ctx context.Context, lat, lon float64) (client.CurrentConditions, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.conditions, f.err
}

type fakeGeocode struct {
	calls atomic.Int64
	place string
	err   error
}

func (f *fakeGeocode) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	f.calls.Add(1)
	return f.place, f.err
}

func (f *fakeGeocode) ValidateAPIKey(ctx context.Context) error { return nil }

// failingStore wraps an InMemoryStore, failing selected operations.
type failingStore struct {
	*cache.InMemoryStore
	insertErr error
	pruneErr  error
	lookupErr error
}

func (s *failingStore) Insert(ctx context.Context, key string, value models.Weather, ttl time.Duration) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.InMemoryStore.Insert(ctx, key, value, ttl)
}

func (s *failingStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.pruneErr != nil {
		return 0, s.pruneErr
	}
	return s.InMemoryStore.Prune(ctx, olderThan)
}

func (s *failingStore) Lookup(ctx context.Context, key string, ttl time.Duration) (models.Weather, bool, error) {
	if s.lookupErr != nil {
		return models.Weather{}, false, s.lookupErr
	}
	return s.InMemoryStore.Lookup(ctx, key, ttl)
}

const ttl = 10 * time.Minute

func newTestService(forecast *fakeForecast, geocode *fakeGeocode, store cache.Store) *WeatherService {
	return NewWeatherService(forecast, geocode, store, ttl, false, 0)
}

func TestGetWeatherMissFetchesAndCaches(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 21.5, WindSpeed10m: 8.2, WeatherCode: 3}}
	geocode := &fakeGeocode{place: "New York"}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)

	got, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if err != nil {
		t.Fatalf("GetWeather error: %v", err)
	}
	if got.ID != "(40.71,-74.01)" {
		t.Errorf("ID = %q, want (40.71,-74.01)", got.ID)
	}
	if got.Location != "New York" || got.Temperature2m != 21.5 {
		t.Errorf("record wrong: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	cached, ok, _ := store.Lookup(context.Background(), "(40.71,-74.01)", ttl)
	if !ok {
		t.Fatal("record not cached after miss")
	}
	if cached.Location != "New York" {
		t.Errorf("cached Location = %q", cached.Location)
	}
}

func TestGetWeatherHitSuppressesUpstream(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 21.5}}
	geocode := &fakeGeocode{place: "New York"}
	svc := newTestService(forecast, geocode, cache.NewInMemoryStore())
	ctx := context.Background()

	if _, err := svc.GetWeather(ctx, 40.7128, -74.006); err != nil {
		t.Fatalf("first GetWeather error: %v", err)
	}
	// same cell, slightly different coordinates
	if _, err := svc.GetWeather(ctx, 40.7131, -74.0062); err != nil {
		t.Fatalf("second GetWeather error: %v", err)
	}

	if got := forecast.calls.Load(); got != 1 {
		t.Errorf("forecast called %d times, want 1", got)
	}
	if got := geocode.calls.Load(); got != 1 {
		t.Errorf("geocode called %d times, want 1", got)
	}
}

func TestGetWeatherStaleRefetches(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 18}}
	geocode := &fakeGeocode{place: "London"}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)
	ctx := context.Background()

	stale := models.Weather{
		ID:        "(51.51,-0.13)",
		Location:  "London",
		CreatedAt: time.Now().UTC().Add(-ttl - time.Minute),
	}
	_ = store.Insert(ctx, stale.ID, stale, ttl)

	got, err := svc.GetWeather(ctx, 51.5074, -0.1278)
	if err != nil {
		t.Fatalf("GetWeather error: %v", err)
	}
	if forecast.calls.Load() != 1 {
		t.Errorf("stale entry did not trigger refetch")
	}
	if got.Temperature2m != 18 {
		t.Errorf("Temperature2m = %v, want refreshed value 18", got.Temperature2m)
	}
}

func TestGetWeatherForecastFailureCachesNothing(t *testing.T) {
	forecast := &fakeForecast{err: client.ErrUpstreamFailure}
	geocode := &fakeGeocode{place: "New York"}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)

	_, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Fatalf("err = %v, want ErrUpstreamFailure", err)
	}
	if store.Len() != 0 {
		t.Error("partial record cached after forecast failure")
	}
}

func TestGetWeatherGeocodeFailureCachesNothing(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 21.5}}
	geocode := &fakeGeocode{err: client.ErrUpstreamFailure}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)

	_, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Fatalf("err = %v, want ErrUpstreamFailure", err)
	}
	if store.Len() != 0 {
		t.Error("partial record cached after geocode failure")
	}
}

func TestGetWeatherUnknownLocationIsSuccess(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 5}}
	geocode := &fakeGeocode{place: client.UnknownLocation}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)

	got, err := svc.GetWeather(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetWeather error: %v", err)
	}
	if got.Location != client.UnknownLocation {
		t.Errorf("Location = %q, want %q", got.Location, client.UnknownLocation)
	}
	if store.Len() != 1 {
		t.Error("unknown-location record not cached")
	}
}

func TestGetWeatherInsertErrorPropagates(t *testing.T) {
	insertErr := errors.New("disk full")
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 21.5}}
	geocode := &fakeGeocode{place: "New York"}
	store := &failingStore{InMemoryStore: cache.NewInMemoryStore(), insertErr: insertErr}
	svc := newTestService(forecast, geocode, store)

	_, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if !errors.Is(err, insertErr) {
		t.Errorf("err = %v, want wrapped insert error", err)
	}
}

func TestGetWeatherPruneErrorPropagates(t *testing.T) {
	pruneErr := errors.New("db locked")
	forecast := &fakeForecast{}
	geocode := &fakeGeocode{place: "New York"}
	store := &failingStore{InMemoryStore: cache.NewInMemoryStore(), pruneErr: pruneErr}
	svc := newTestService(forecast, geocode, store)

	_, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if !errors.Is(err, pruneErr) {
		t.Fatalf("err = %v, want wrapped prune error", err)
	}
	if forecast.calls.Load() != 0 {
		t.Error("upstream called despite store failure")
	}
}

func TestGetWeatherLookupErrorPropagates(t *testing.T) {
	lookupErr := errors.New("io error")
	forecast := &fakeForecast{}
	geocode := &fakeGeocode{place: "New York"}
	store := &failingStore{InMemoryStore: cache.NewInMemoryStore(), lookupErr: lookupErr}
	svc := newTestService(forecast, geocode, store)

	_, err := svc.GetWeather(context.Background(), 40.7128, -74.006)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("err = %v, want wrapped lookup error", err)
	}
	if forecast.calls.Load() != 0 {
		t.Error("upstream called despite lookup failure")
	}
}

func TestGetWeatherPruneSweepsOtherKeys(t *testing.T) {
	forecast := &fakeForecast{conditions: client.CurrentConditions{Temperature2m: 21.5}}
	geocode := &fakeGeocode{place: "New York"}
	store := cache.NewInMemoryStore()
	svc := newTestService(forecast, geocode, store)
	ctx := context.Background()

	old := models.Weather{ID: "(0.00,0.00)", Location: "old", CreatedAt: time.Now().UTC().Add(-ttl - time.Hour)}
	_ = store.Insert(ctx, old.ID, old, ttl)

	if _, err := svc.GetWeather(ctx, 40.7128, -74.006); err != nil {
		t.Fatalf("GetWeather error: %v", err)
	}
	// the expired entry for the unrelated key is gone; only the new one remains
	if store.Len() != 1 {
		t.Errorf("Len = %d after request, want 1", store.Len())
	}
}
