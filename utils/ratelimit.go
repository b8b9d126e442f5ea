package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RequestRateLimiter throttles upstream calls with a token bucket shared by
// every resolution in the process.
type RequestRateLimiter struct {
	limiter *rate.Limiter
}

// NewRequestRateLimiter creates a limiter allowing perSecond requests with the given burst.
// A non-positive rate disables limiting.
func NewRequestRateLimiter(perSecond float64, burst int) *RequestRateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RequestRateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// NewRequestRateLimiterFromString builds a limiter from a rate string such as "10/s".
// An empty string yields nil, meaning no limiting.
func NewRequestRateLimiterFromString(rateStr string) (*RequestRateLimiter, error) {
	perSecond, err := ParseRequestRate(rateStr)
	if err != nil {
		return nil, err
	}
	if perSecond == 0 {
		return nil, nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return NewRequestRateLimiter(perSecond, burst), nil
}

// Wait blocks until a request may proceed or ctx is done
func (l *RequestRateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Limit returns the current limit in requests per second
func (l *RequestRateLimiter) Limit() float64 {
	return float64(l.limiter.Limit())
}

// ParseRequestRate parses human-readable request rates ("10/s", "600/m",
// "5000/h", or a bare number meaning per second) into requests per second.
func ParseRequestRate(rateStr string) (float64, error) {
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	numStr, unit, hasUnit := strings.Cut(rateStr, "/")
	numStr = strings.TrimSpace(numStr)

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %s", rateStr)
	}

	if !hasUnit {
		return value, nil
	}

	var per time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		per = time.Second
	case "m", "min", "minute":
		per = time.Minute
	case "h", "hour":
		per = time.Hour
	default:
		return 0, fmt.Errorf("unsupported rate unit: %s (supported: s, m, h)", unit)
	}

	return value / per.Seconds(), nil
}
