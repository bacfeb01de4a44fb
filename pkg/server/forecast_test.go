package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarcast/forecastsolar/pkg/forecastsolar"
)

var fixtureRateLimit = forecastsolar.RateLimit{
	CallLimit:      12,
	RemainingCalls: 11,
	Period:         3600,
}

func TestHandleEstimate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("Estimate", mock.Anything).Return(fixtureEstimate(t), nil)
		mockF.On("RateLimit").Return(fixtureRateLimit, true)
		srv := New(mockF, time.Minute, 5)

		req := httptest.NewRequest("GET", "/api/estimate", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

		var body struct {
			Timezone                       string         `json:"timezone"`
			AccountType                    string         `json:"accountType"`
			EnergyProductionToday          int            `json:"energyProductionToday"`
			EnergyProductionTomorrow       int            `json:"energyProductionTomorrow"`
			EnergyProductionTodayRemaining int            `json:"energyProductionTodayRemaining"`
			EnergyCurrentHour              int            `json:"energyCurrentHour"`
			PowerProductionNow             *int           `json:"powerProductionNow"`
			PowerHighestPeakTimeToday      *time.Time     `json:"powerHighestPeakTimeToday"`
			SumEnergyProduction            map[string]int `json:"sumEnergyProduction"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Europe/Vienna", body.Timezone)
		assert.Equal(t, "public", body.AccountType)
		assert.Equal(t, 2991, body.EnergyProductionToday)
		assert.Equal(t, 2602, body.EnergyProductionTomorrow)
		assert.Equal(t, 2059, body.EnergyProductionTodayRemaining)
		assert.Equal(t, 270, body.EnergyCurrentHour)
		require.NotNil(t, body.PowerProductionNow)
		assert.Equal(t, 289, *body.PowerProductionNow)
		require.NotNil(t, body.PowerHighestPeakTimeToday)
		assert.True(t, body.PowerHighestPeakTimeToday.Equal(time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)))
		assert.Equal(t, 312, body.SumEnergyProduction["1"])
		assert.Equal(t, 2893, body.SumEnergyProduction["24"])

		mockF.AssertExpectations(t)
	})

	t.Run("errors", func(t *testing.T) {
		for _, tc := range []struct {
			err  error
			code int
		}{
			{&forecastsolar.Error{Kind: forecastsolar.KindConnection, Message: "dial"}, http.StatusBadGateway},
			{&forecastsolar.Error{Kind: forecastsolar.KindRequest, Message: "bad"}, http.StatusBadRequest},
			{&forecastsolar.Error{Kind: forecastsolar.KindConfig, Message: "bad"}, http.StatusBadRequest},
			{&forecastsolar.Error{Kind: forecastsolar.KindAuthentication, Message: "key"}, http.StatusUnauthorized},
			{&forecastsolar.Error{Kind: forecastsolar.KindRateLimit, Message: "slow down"}, http.StatusTooManyRequests},
			{&forecastsolar.Error{Kind: forecastsolar.KindMissingRateLimitHeaders}, http.StatusBadGateway},
			{&forecastsolar.Error{Kind: forecastsolar.KindMalformedResponse}, http.StatusBadGateway},
			{fmt.Errorf("forecast.solar returned status: %d", http.StatusInternalServerError), http.StatusInternalServerError},
		} {
			mockF := &mockForecaster{}
			mockF.On("Estimate", mock.Anything).Return(nil, tc.err)
			mockF.On("RateLimit").Return(forecastsolar.RateLimit{}, false)
			srv := New(mockF, time.Minute, 5)

			req := httptest.NewRequest("GET", "/api/estimate", nil)
			w := httptest.NewRecorder()
			srv.setupHandler().ServeHTTP(w, req)

			assert.Equal(t, tc.code, w.Code, tc.err.Error())
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
		}
	})

	t.Run("upstream rate limit sets retry-after", func(t *testing.T) {
		retryAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		rl := fixtureRateLimit
		rl.RemainingCalls = 0
		rl.RetryAt = &retryAt

		mockF := &mockForecaster{}
		mockF.On("Estimate", mock.Anything).Return(nil, &forecastsolar.Error{Kind: forecastsolar.KindRateLimit, Message: "Rate limit for API calls reached."})
		mockF.On("RateLimit").Return(rl, true)
		srv := New(mockF, time.Minute, 5)

		req := httptest.NewRequest("GET", "/api/estimate", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, retryAt.Format(http.TimeFormat), w.Header().Get("Retry-After"))
	})

	t.Run("past retry at is not sent", func(t *testing.T) {
		retryAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		rl := fixtureRateLimit
		rl.RetryAt = &retryAt

		mockF := &mockForecaster{}
		mockF.On("Estimate", mock.Anything).Return(nil, &forecastsolar.Error{Kind: forecastsolar.KindRateLimit})
		mockF.On("RateLimit").Return(rl, true)
		srv := New(mockF, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/estimate", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Empty(t, w.Header().Get("Retry-After"))
	})

	t.Run("retry-after comes from the rate limited response", func(t *testing.T) {
		body, err := os.ReadFile("../forecastsolar/testdata/forecast.json")
		require.NoError(t, err)

		calls := 0
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("X-Ratelimit-Limit", "12")
			w.Header().Set("X-Ratelimit-Period", "3600")
			if calls == 1 {
				w.Header().Set("X-Ratelimit-Remaining", "1")
				w.Header().Set("X-Ratelimit-Retry-At", "2020-01-01T00:00:00Z")
				_, _ = w.Write(body)
				return
			}
			w.Header().Set("X-Ratelimit-Remaining", "0")
			w.Header().Set("X-Ratelimit-Retry-At", "2030-01-01T00:00:00Z")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message": "Rate limit for API calls reached."}`))
		}))
		t.Cleanup(upstream.Close)

		client := forecastsolar.New(forecastsolar.Options{
			BaseURL:     upstream.URL + "/",
			Latitude:    48.21,
			Longitude:   16.36,
			Declination: 23.44,
			Azimuth:     180,
			KWP:         5,
		}, upstream.Client())
		handler := New(client, time.Minute, 5).setupHandler()

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/estimate", nil))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/estimate", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "Tue, 01 Jan 2030 00:00:00 GMT", w.Header().Get("Retry-After"))

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/ratelimit", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"callLimit":12,"remainingCalls":0,"period":3600,"retryAt":"2030-01-01T00:00:00Z"}`, w.Body.String())
	})

	t.Run("throttled locally", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("Estimate", mock.Anything).Return(fixtureEstimate(t), nil).Once()
		mockF.On("RateLimit").Return(fixtureRateLimit, true)
		srv := New(mockF, time.Hour, 1)
		handler := srv.setupHandler()

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/estimate", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/estimate", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

		mockF.AssertNumberOfCalls(t, "Estimate", 1)
	})

	t.Run("wrong method", func(t *testing.T) {
		srv := New(&mockForecaster{}, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("POST", "/api/estimate", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleCheck(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("ValidatePlane", mock.Anything).Return(true, nil)
		srv := New(mockF, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/check", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"valid":true}`, w.Body.String())
	})

	t.Run("invalid plane", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("ValidatePlane", mock.Anything).Return(false, &forecastsolar.Error{Kind: forecastsolar.KindRequest, Message: "Invalid declination, must be between 0 and 90"})
		srv := New(mockF, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/check", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid declination")
	})
}

func TestHandleRateLimit(t *testing.T) {
	t.Run("observed", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("RateLimit").Return(fixtureRateLimit, true)
		srv := New(mockF, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/ratelimit", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"callLimit":12,"remainingCalls":11,"period":3600}`, w.Body.String())
	})

	t.Run("not yet observed", func(t *testing.T) {
		mockF := &mockForecaster{}
		mockF.On("RateLimit").Return(forecastsolar.RateLimit{}, false)
		srv := New(mockF, time.Minute, 5)

		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/api/ratelimit", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusForError(fmt.Errorf("estimate: %w", forecastsolar.ErrConnection)))
	assert.Equal(t, http.StatusUnauthorized, statusForError(forecastsolar.ErrAuthentication))
	assert.Equal(t, http.StatusInternalServerError, statusForError(forecastsolar.ErrNoPeakFound))
}
