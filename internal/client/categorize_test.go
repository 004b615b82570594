package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies that CategorizeError maps each fetch error kind to its stable label.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{nil, ""},
		{context.DeadlineExceeded, ErrorCategoryTimeout},
		{fmt.Errorf("%w: HTTP 429", ErrRateLimited), ErrorCategoryRateLimited},
		{fmt.Errorf("%w: bad", ErrMalformedResponse), ErrorCategoryMalformed},
		{fmt.Errorf("%w: %w: HTTP 403", ErrNetwork, errRejected), ErrorCategoryRejected},
		{fmt.Errorf("%w: dial", ErrNetwork), ErrorCategoryNetwork},
		{errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		if got := CategorizeError(tt.err); got != tt.want {
			t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// TestFetchError_Kind verifies FetchError exposes its kind and cause and keeps an existing FetchError intact.
func TestFetchError_Kind(t *testing.T) {
	cause := errors.New("connection reset")
	fe := newFetchError(SourceTransit, cause)
	if !errors.Is(fe, ErrNetwork) || !errors.Is(fe, cause) {
		t.Errorf("newFetchError() = %v, want network kind wrapping cause", fe)
	}
	if fe.Error() != "transit fetch: network error: connection reset" {
		t.Errorf("Error() = %q", fe.Error())
	}

	timeout := newFetchError(SourceWeather, fmt.Errorf("do: %w", context.DeadlineExceeded))
	if timeout.Kind != ErrTimeout {
		t.Errorf("Kind = %v, want %v", timeout.Kind, ErrTimeout)
	}

	wrapped := fmt.Errorf("outer: %w", fe)
	if again := newFetchError(SourceWeather, wrapped); again != fe {
		t.Error("newFetchError() should return the FetchError already in the chain")
	}
}
