package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarcast/forecastsolar/pkg/forecastsolar"
)

type mockForecaster struct {
	mock.Mock
}

func (m *mockForecaster) Estimate(ctx context.Context) (*forecastsolar.Estimate, error) {
	args := m.Called(ctx)
	est, _ := args.Get(0).(*forecastsolar.Estimate)
	return est, args.Error(1)
}

func (m *mockForecaster) ValidatePlane(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockForecaster) RateLimit() (forecastsolar.RateLimit, bool) {
	args := m.Called()
	return args.Get(0).(forecastsolar.RateLimit), args.Bool(1)
}

// fixtureEstimate parses the shared forecast fixture as seen at noon on its
// first day.
func fixtureEstimate(t *testing.T) *forecastsolar.Estimate {
	t.Helper()
	body, err := os.ReadFile("../forecastsolar/testdata/forecast.json")
	require.NoError(t, err)

	loc, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)
	now := time.Date(2024, 6, 11, 12, 0, 0, 0, loc)

	est, err := forecastsolar.ParseEstimate(body, func() time.Time { return now })
	require.NoError(t, err)
	return est
}
