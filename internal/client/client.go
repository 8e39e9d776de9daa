// Package client holds the adapters for the two upstream HTTP services:
// the forecast provider (Open-Meteo style) and the reverse-geocoding
// provider (LocationIQ style). Failures are never retried here; a
// failed upstream call aborts the enclosing weather request.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ForecastClient fetches current conditions for one coordinate pair.
type ForecastClient interface {
	Fetch(ctx context.Context, lat, lon float64) (CurrentConditions, error)
}

// GeocodeClient resolves a coordinate pair to a human-readable place
// name. Geocoding ambiguity is not an error: Reverse degrades to the
// UnknownLocation placeholder rather than failing.
type GeocodeClient interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
	ValidateAPIKey(ctx context.Context) error
}

// CurrentConditions is the raw observation returned by the forecast
// provider, in Celsius with a Unix timestamp.
type CurrentConditions struct {
	Time                     int64
	Temperature2m            float64
	WindSpeed10m             float64
	WeatherCode              int
	RelativeHumidity2m       float64
	ApparentTemperature      float64
	PrecipitationProbability float64
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// handleErrorResponse maps a non-2xx upstream status to a sentinel error.
func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// extractCorrelationID pulls the request correlation ID out of ctx for
// propagation to upstream calls. Empty when no middleware set one.
func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

// statusLabel buckets an HTTP status code into a stable metrics label.
func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
