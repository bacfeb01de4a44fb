package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/solarcast/forecastsolar/pkg/forecastsolar"
	"github.com/solarcast/forecastsolar/pkg/log"
)

// statusForError maps a forecast.solar failure onto the status returned to
// our own callers.
func statusForError(err error) int {
	switch forecastsolar.KindOf(err) {
	case forecastsolar.KindConnection,
		forecastsolar.KindMissingRateLimitHeaders,
		forecastsolar.KindMalformedResponse:
		return http.StatusBadGateway
	case forecastsolar.KindRequest, forecastsolar.KindConfig:
		return http.StatusBadRequest
	case forecastsolar.KindAuthentication:
		return http.StatusUnauthorized
	case forecastsolar.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// allow reports whether another upstream call may be made right now. When it
// returns false the response has already been written.
func (s *Server) allow(w http.ResponseWriter, endpoint string) bool {
	if s.limiter.Allow() {
		return true
	}
	s.metrics.requests.WithLabelValues(endpoint, "throttled").Inc()
	writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	ctx := r.Context()
	code := statusForError(err)
	outcome := "error"
	if kind := forecastsolar.KindOf(err); kind != 0 {
		outcome = kind.String()
	}
	s.metrics.requests.WithLabelValues(endpoint, outcome).Inc()

	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, "forecast.solar request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, "forecast.solar request rejected", slog.String("endpoint", endpoint), slog.Any("error", err))
	}

	if forecastsolar.KindOf(err) == forecastsolar.KindRateLimit {
		if rl, ok := s.forecaster.RateLimit(); ok && rl.RetryAt != nil && rl.RetryAt.After(time.Now()) {
			w.Header().Set("Retry-After", rl.RetryAt.UTC().Format(http.TimeFormat))
		}
	}
	writeJSONError(w, err.Error(), code)
}

func (s *Server) observeRateLimit() {
	rl, ok := s.forecaster.RateLimit()
	if !ok {
		return
	}
	s.metrics.callLimit.Set(float64(rl.CallLimit))
	s.metrics.remainingCalls.Set(float64(rl.RemainingCalls))
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "estimate"
	if !s.allow(w, endpoint) {
		return
	}

	start := time.Now()
	est, err := s.forecaster.Estimate(r.Context())
	s.metrics.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	s.observeRateLimit()
	if err != nil {
		s.fail(w, r, endpoint, err)
		return
	}
	s.metrics.requests.WithLabelValues(endpoint, "ok").Inc()
	writeJSON(w, est.Summary())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	const endpoint = "check"
	if !s.allow(w, endpoint) {
		return
	}

	start := time.Now()
	ok, err := s.forecaster.ValidatePlane(r.Context())
	s.metrics.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(w, r, endpoint, err)
		return
	}
	s.metrics.requests.WithLabelValues(endpoint, "ok").Inc()
	writeJSON(w, struct {
		Valid bool `json:"valid"`
	}{Valid: ok})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.forecaster.RateLimit()
	if !ok {
		writeJSONError(w, "no rate limit observed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, rl)
}
