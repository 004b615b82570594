package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Source names an upstream data source.
type Source string

const (
	SourceTransit Source = "transit"
	SourceWeather Source = "weather"
)

// Fetch error kinds. Every error returned by a client wraps exactly one of these.
var (
	ErrNetwork           = errors.New("network error")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTimeout           = errors.New("timeout")
)

// errRejected marks a 4xx response other than 429; it is a network-kind failure that retrying will not fix.
var errRejected = errors.New("request rejected")

// FetchError is the typed failure of a TransitClient or WeatherClient call.
type FetchError struct {
	Source Source
	Kind   error
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s fetch: %v", e.Source, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s fetch: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s fetch: %v: %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// newFetchError wraps err as a FetchError for source, inferring the kind when err does not carry one.
func newFetchError(source Source, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Source: source, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return ErrMalformedResponse
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryMalformed   ErrorCategory = "malformed"
	ErrorCategoryRejected    ErrorCategory = "rejected"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformed
	case errors.Is(err, errRejected):
		return ErrorCategoryRejected
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
