package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// UnknownLocation is the placeholder place name used when the geocoder
// returns neither a city nor a county. A record carrying it is still a
// valid, cacheable success.
const UnknownLocation = "unknown location"

// LocationIQClient implements GeocodeClient against a LocationIQ
// compatible reverse-geocoding endpoint. Requires an API key.
type LocationIQClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewLocationIQClient creates a reverse-geocoding client for the given
// base URL (e.g. "https://us1.locationiq.com/v1/reverse").
func NewLocationIQClient(apiKey, apiURL string, timeout time.Duration) (*LocationIQClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		return nil, fmt.Errorf("geocode API URL is required")
	}
	return &LocationIQClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wires an optional breaker around Reverse. When the
// breaker is open, Reverse fails fast with an upstream error.
func (c *LocationIQClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type locationIQResponse struct {
	Address *struct {
		City   string `json:"city"`
		County string `json:"county"`
	} `json:"address"`
}

// Reverse resolves (lat, lon) to a place name with the fallback order
// city, then county, then UnknownLocation. Only transport or parse
// failure of the call itself is an error; thin results are not.
func (c *LocationIQClient) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if c.breaker != nil {
		var place string
		err := c.breaker.Call(func() error {
			var callErr error
			place, callErr = c.callAPI(ctx, lat, lon)
			return callErr
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return "", fmt.Errorf("%w: geocode circuit open", ErrUpstreamFailure)
		}
		return place, err
	}
	return c.callAPI(ctx, lat, lon)
}

func (c *LocationIQClient) callAPI(ctx context.Context, lat, lon float64) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.GeocodeAPICallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("build geocode request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.GeocodeAPICallsTotal.WithLabelValues("error").Inc()
		observability.GeocodeAPIDuration.WithLabelValues("error").Observe(duration)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("geocode request timeout: %w", err)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.GeocodeAPICallsTotal.WithLabelValues(status).Inc()
	observability.GeocodeAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read geocode response: %w", err)
	}

	var apiResp locationIQResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: parse geocode response: %v", ErrUpstreamFailure, err)
	}
	if apiResp.Address == nil {
		return "", fmt.Errorf("%w: geocode response missing address", ErrUpstreamFailure)
	}

	switch {
	case apiResp.Address.City != "":
		return apiResp.Address.City, nil
	case apiResp.Address.County != "":
		return apiResp.Address.County, nil
	}
	observability.GeocodeFallbacksTotal.Inc()
	return UnknownLocation, nil
}

func (c *LocationIQClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocode API URL: %w", err)
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("format", "json")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create geocode request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// ValidateAPIKey issues a probe reverse lookup to verify the key is
// accepted. Used by the health handler.
func (c *LocationIQClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, 51.51, -0.13)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: geocode API key rejected", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
