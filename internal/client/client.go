package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
	"github.com/kjstillabower/weather-proxy-service/internal/observability"
)

// DefaultAPIURL is the WeatherAPI.com current-conditions endpoint.
const DefaultAPIURL = "https://api.weatherapi.com/v1/current.json"

// WeatherClient performs a single current-conditions lookup. No retries.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, city string) (models.Observation, error)
}

var (
	ErrMissingAPIKey       = errors.New("weather API key not configured")
	ErrUpstreamRejected    = errors.New("upstream rejected query")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// RejectedError is a payload-level refusal from the provider, typically an unknown city.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s (code %d)", ErrUpstreamRejected, e.Message, e.Code)
}

func (e *RejectedError) Unwrap() error { return ErrUpstreamRejected }

// UnavailableError covers transport failures, non-2xx answers and unreadable payloads.
// StatusCode is 0 when no HTTP response was received.
type UnavailableError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: HTTP %d: %s", ErrUpstreamUnavailable, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", ErrUpstreamUnavailable, e.Message)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstreamUnavailable, e.Err}
	}
	return []error{ErrUpstreamUnavailable}
}

// Provider error codes that mean "this query names no place".
// See https://www.weatherapi.com/docs/#intro-error-codes.
var rejectedCodes = map[int]bool{
	1003: true, // parameter q not provided
	1005: true, // API request url is invalid
	1006: true, // no location found matching parameter q
}

// WeatherAPIClient talks to WeatherAPI.com.
type WeatherAPIClient struct {
	apiKey string
	apiURL string
	client *http.Client
}

// NewWeatherAPIClient returns a client for apiURL. An empty apiKey is accepted
// here and reported as ErrMissingAPIKey on first use. timeout 0 keeps the
// transport default.
func NewWeatherAPIClient(apiKey, apiURL string, timeout time.Duration) *WeatherAPIClient {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &WeatherAPIClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is present.
func (c *WeatherAPIClient) Configured() bool {
	return c.apiKey != ""
}

type weatherAPIResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC     float64 `json:"temp_c"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

type weatherAPIError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchCurrent issues one GET for city and maps the answer.
func (c *WeatherAPIClient) FetchCurrent(ctx context.Context, city string) (models.Observation, error) {
	if c.apiKey == "" {
		return models.Observation{}, ErrMissingAPIKey
	}
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Observation{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.Observation{}, &UnavailableError{Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Observation{}, &UnavailableError{StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return models.Observation{}, err
	}

	var apiResp weatherAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Observation{}, &UnavailableError{StatusCode: resp.StatusCode, Message: "parse response", Err: err}
	}
	return mapResponse(apiResp, city), nil
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("key", c.apiKey)
	params.Set("q", city)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse inspects the body for a payload-level error object before
// falling back to the HTTP status.
func handleErrorResponse(statusCode int, body []byte) error {
	var payload weatherAPIError
	if json.Unmarshal(body, &payload) == nil && payload.Error != nil {
		if rejectedCodes[payload.Error.Code] {
			return &RejectedError{Code: payload.Error.Code, Message: payload.Error.Message}
		}
		code := statusCode
		if code >= 200 && code < 300 {
			code = 0
		}
		return &UnavailableError{StatusCode: code, Message: payload.Error.Message}
	}
	if statusCode < 200 || statusCode >= 300 {
		return &UnavailableError{StatusCode: statusCode, Message: http.StatusText(statusCode)}
	}
	return nil
}

func mapResponse(apiResp weatherAPIResponse, city string) models.Observation {
	displayName := strings.TrimSpace(apiResp.Location.Name)
	if displayName == "" {
		displayName = strings.TrimSpace(city)
	}
	return models.Observation{
		City:         displayName,
		TemperatureC: apiResp.Current.TempC,
		Condition:    apiResp.Current.Condition.Text,
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
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
