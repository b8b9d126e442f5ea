package utils

import (
	"context"
	"math"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestParseRequestRate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"", 0, false},
		{"10", 10, false},
		{"10/s", 10, false},
		{"2.5/sec", 2.5, false},
		{"600/m", 10, false},
		{"60/min", 1, false},
		{"3600/h", 1, false},
		{" 5 / s ", 5, false},
		{"fast", 0, true},
		{"-1/s", 0, true},
		{"10/d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRequestRate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequestRate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ParseRequestRate(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewRequestRateLimiterFromString(t *testing.T) {
	limiter, err := NewRequestRateLimiterFromString("")
	if err != nil || limiter != nil {
		t.Errorf("empty rate should disable limiting, got %v %v", limiter, err)
	}

	limiter, err = NewRequestRateLimiterFromString("20/s")
	if err != nil {
		t.Fatalf("NewRequestRateLimiterFromString: %v", err)
	}
	if limiter.Limit() != 20 {
		t.Errorf("expected limit 20, got %v", limiter.Limit())
	}

	if _, err := NewRequestRateLimiterFromString("x/s"); err == nil {
		t.Error("expected error for malformed rate")
	}
}

func TestRequestRateLimiter_NonPositiveIsUnlimited(t *testing.T) {
	limiter := NewRequestRateLimiter(0, 0)
	if rate.Limit(limiter.Limit()) != rate.Inf {
		t.Errorf("expected unlimited, got %v", limiter.Limit())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("unlimited limiter must never block: %v", err)
		}
	}
}

func TestRequestRateLimiter_NilIsUnlimited(t *testing.T) {
	var limiter *RequestRateLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait should not fail: %v", err)
	}
}

func TestRequestRateLimiter_Throttles(t *testing.T) {
	limiter := NewRequestRateLimiter(1, 1)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first request should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait should fail when the context ends before a token is available")
	}
}
