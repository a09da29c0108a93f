package service

import (
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-proxy-service/internal/store"
)

// Error kinds returned by WeatherService. The HTTP layer maps each to a status code.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrUpstream      = errors.New("upstream error")
	ErrStorage       = store.ErrStorage
	ErrConfiguration = errors.New("configuration error")
)

// NotFoundError carries the message shown to the caller, such as the
// provider's "No matching location found."
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UpstreamError reports a provider failure. StatusCode is the provider's HTTP
// status, or 0 when none was received.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUpstream, e.Message)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstream, e.Err}
	}
	return []error{ErrUpstream}
}

func invalidInput(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func storageError(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
