package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashishkrishna888/Airlytics/internal/airquality"
	"github.com/ashishkrishna888/Airlytics/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors, typed API errors and message-based heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"api error 401", &APIError{Endpoint: EndpointWeather, Status: 401, Message: "Invalid API key"}, ErrorCategoryInvalidAPIKey},
		{"location not found", ErrLocationNotFound, ErrorCategoryLocationNotFound},
		{"api error 404", &APIError{Endpoint: EndpointWeather, Status: 404, Message: "city not found"}, ErrorCategoryLocationNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"api error 502", &APIError{Endpoint: EndpointPollution, Status: 502, Message: "Bad Gateway"}, ErrorCategoryUpstream5xx},
		{"api error 400", &APIError{Endpoint: EndpointGeocode, Status: 400, Message: "Nothing to geocode"}, ErrorCategoryUpstream4xx},
		{"circuit open", circuitbreaker.ErrOpen, ErrorCategoryCircuitOpen},
		{"contract", airquality.ErrMissingPollution, ErrorCategoryContract},
		{"timeout in message", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"network in message", errors.New("connection refused"), ErrorCategoryNetwork},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestIsBreakerFailure verifies that lookups for unknown locations do not
// count as upstream failures.
func TestIsBreakerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"location not found", ErrLocationNotFound, false},
		{"wrapped location not found", fmt.Errorf("geocode: %w", ErrLocationNotFound), false},
		{"api error 404", &APIError{Endpoint: EndpointWeather, Status: 404, Message: "city not found"}, false},
		{"upstream failure", ErrUpstreamFailure, true},
		{"timeout", context.DeadlineExceeded, true},
		{"invalid API key", ErrInvalidAPIKey, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBreakerFailure(tt.err); got != tt.want {
				t.Errorf("IsBreakerFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestIsBreakerFailure_NotFoundKeepsCircuitClosed drives a breaker past its
// threshold with unknown-location errors.
func TestIsBreakerFailure_NotFoundKeepsCircuitClosed(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Component:        "test",
		IsFailure:        IsBreakerFailure,
	})
	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func() error { return ErrLocationNotFound })
		if !errors.Is(err, ErrLocationNotFound) {
			t.Fatalf("call %d: err = %v, want ErrLocationNotFound", i, err)
		}
	}
	if got := cb.State(); got != circuitbreaker.StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}
