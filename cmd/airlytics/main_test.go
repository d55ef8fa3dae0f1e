package main

import (
	"testing"
	"time"

	"github.com/ashishkrishna888/Airlytics/internal/config"
	"github.com/ashishkrishna888/Airlytics/internal/models"
)

func TestPoliciesFromConfig(t *testing.T) {
	cfg := &config.Config{
		AQIQuery:     config.QueryConfig{StaleTime: 5 * time.Minute, RefetchInterval: 5 * time.Minute, Retry: 3},
		SearchQuery:  config.QueryConfig{StaleTime: 10 * time.Minute, Retry: 2},
		ReverseQuery: config.QueryConfig{StaleTime: 30 * time.Minute, Retry: 1},
	}

	p := policiesFromConfig(cfg)

	if p.AQI.RefetchInterval != 5*time.Minute || p.AQI.Retry != 3 {
		t.Errorf("AQI = %+v", p.AQI)
	}
	if p.Search.StaleTime != 10*time.Minute || p.Search.RefetchInterval != 0 {
		t.Errorf("Search = %+v", p.Search)
	}
	if p.Reverse.Retry != 1 || p.Reverse.RetryDelay != nil {
		t.Errorf("Reverse = %+v", p.Reverse)
	}
}

func TestTrackedNames(t *testing.T) {
	got := trackedNames([]models.LocationCandidate{{Name: "London", Country: "GB"}, {Name: "Delhi", Country: "IN"}})
	if len(got) != 2 || got[0] != "London, GB" || got[1] != "Delhi, IN" {
		t.Errorf("trackedNames() = %v", got)
	}
}

// TestCoverageGaps_IntentionallyUntested documents why main has no end-to-end test.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Skip("main is wiring-only; signal handling and server startup would require exec")
}
