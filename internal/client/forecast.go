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

// forecastFields is the field selection requested from the provider.
// Must cover every CurrentConditions field.
const forecastFields = "temperature_2m,wind_speed_10m,relative_humidity_2m,apparent_temperature,precipitation_probability,weather_code"

// OpenMeteoClient implements ForecastClient against an Open-Meteo
// compatible forecast endpoint. No API key is required. Responses are
// requested in Celsius with Unix timestamps; RFC-3339 time strings from
// the provider would need timezone reparsing, so numeric timestamps are
// mandatory.
type OpenMeteoClient struct {
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenMeteoClient creates a forecast client for the given base URL
// (e.g. "https://api.open-meteo.com/v1/forecast").
func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("forecast API URL is required")
	}
	return &OpenMeteoClient{
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wires an optional breaker around Fetch. When the
// breaker is open, Fetch fails fast with an upstream error.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type openMeteoResponse struct {
	Current *struct {
		Time                     int64   `json:"time"`
		Temperature2m            float64 `json:"temperature_2m"`
		WindSpeed10m             float64 `json:"wind_speed_10m"`
		WeatherCode              int     `json:"weather_code"`
		RelativeHumidity2m       float64 `json:"relative_humidity_2m"`
		ApparentTemperature      float64 `json:"apparent_temperature"`
		PrecipitationProbability float64 `json:"precipitation_probability"`
	} `json:"current"`
}

// Fetch issues one request for current conditions at (lat, lon). Any
// transport error, non-2xx status, or malformed payload is an upstream
// error; there is no retry.
func (c *OpenMeteoClient) Fetch(ctx context.Context, lat, lon float64) (CurrentConditions, error) {
	if c.breaker != nil {
		var result CurrentConditions
		err := c.breaker.Call(func() error {
			var callErr error
			result, callErr = c.callAPI(ctx, lat, lon)
			return callErr
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return CurrentConditions{}, fmt.Errorf("%w: forecast circuit open", ErrUpstreamFailure)
		}
		return result, err
	}
	return c.callAPI(ctx, lat, lon)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, lat, lon float64) (CurrentConditions, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return CurrentConditions{}, fmt.Errorf("build forecast request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return CurrentConditions{}, fmt.Errorf("forecast request timeout: %w", err)
		}
		return CurrentConditions{}, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return CurrentConditions{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CurrentConditions{}, fmt.Errorf("read forecast response: %w", err)
	}

	var apiResp openMeteoResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return CurrentConditions{}, fmt.Errorf("%w: parse forecast response: %v", ErrUpstreamFailure, err)
	}
	if apiResp.Current == nil {
		return CurrentConditions{}, fmt.Errorf("%w: forecast response missing current conditions", ErrUpstreamFailure)
	}

	cur := apiResp.Current
	return CurrentConditions{
		Time:                     cur.Time,
		Temperature2m:            cur.Temperature2m,
		WindSpeed10m:             cur.WindSpeed10m,
		WeatherCode:              cur.WeatherCode,
		RelativeHumidity2m:       cur.RelativeHumidity2m,
		ApparentTemperature:      cur.ApparentTemperature,
		PrecipitationProbability: cur.PrecipitationProbability,
	}, nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forecast API URL: %w", err)
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current", forecastFields)
	params.Set("temperature_unit", "celsius")
	params.Set("timeformat", "unixtime")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create forecast request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}
