package forecastsolar

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	headerRateLimitLimit     = "X-Ratelimit-Limit"
	headerRateLimitPeriod    = "X-Ratelimit-Period"
	headerRateLimitRemaining = "X-Ratelimit-Remaining"
	headerRateLimitRetryAt   = "X-Ratelimit-Retry-At"
)

// RateLimit is the quota state reported in the headers of a single response.
type RateLimit struct {
	CallLimit      int        `json:"callLimit"`
	RemainingCalls int        `json:"remainingCalls"`
	Period         int        `json:"period"`
	RetryAt        *time.Time `json:"retryAt,omitempty"`
}

// RateLimitFromHeaders parses the X-Ratelimit-* headers. Limit and period must
// be present; remaining defaults to 0 and retry-at is optional.
func RateLimitFromHeaders(h http.Header) (RateLimit, error) {
	limitStr := h.Get(headerRateLimitLimit)
	periodStr := h.Get(headerRateLimitPeriod)
	if limitStr == "" || periodStr == "" {
		return RateLimit{}, newError(KindMissingRateLimitHeaders, "rate limit headers are missing from the response")
	}
	remainingStr := h.Get(headerRateLimitRemaining)
	if remainingStr == "" {
		remainingStr = "0"
	}

	var rl RateLimit
	var err error
	if rl.CallLimit, err = strconv.Atoi(limitStr); err != nil {
		return RateLimit{}, fmt.Errorf("invalid %s header (%s): %w", headerRateLimitLimit, limitStr, err)
	}
	if rl.Period, err = strconv.Atoi(periodStr); err != nil {
		return RateLimit{}, fmt.Errorf("invalid %s header (%s): %w", headerRateLimitPeriod, periodStr, err)
	}
	if rl.RemainingCalls, err = strconv.Atoi(remainingStr); err != nil {
		return RateLimit{}, fmt.Errorf("invalid %s header (%s): %w", headerRateLimitRemaining, remainingStr, err)
	}

	if retryAtStr := h.Get(headerRateLimitRetryAt); retryAtStr != "" {
		retryAt, err := time.Parse(time.RFC3339Nano, retryAtStr)
		if err != nil {
			return RateLimit{}, fmt.Errorf("invalid %s header (%s): %w", headerRateLimitRetryAt, retryAtStr, err)
		}
		rl.RetryAt = &retryAt
	}
	return rl, nil
}

// RetryIn returns how long until calls are allowed again, or 0 if the API did
// not send a retry time or it already passed.
func (r RateLimit) RetryIn(now time.Time) time.Duration {
	if r.RetryAt == nil || !r.RetryAt.After(now) {
		return 0
	}
	return r.RetryAt.Sub(now)
}
