package forecastsolar

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
	_ "time/tzdata"

	"github.com/solarcast/forecastsolar/pkg/series"
)

// AccountType is the forecast.solar subscription tier.
type AccountType string

const (
	AccountPublic       AccountType = "public"
	AccountPersonal     AccountType = "personal"
	AccountProfessional AccountType = "professional"
)

// SummaryHours are the look-ahead windows reported in a Summary.
var SummaryHours = []int{1, 6, 12, 24}

// Estimate is a parsed forecast. All derived values are anchored to the
// current time in the timezone the API reported for the plane.
type Estimate struct {
	// Watts is the instantaneous power forecast.
	Watts series.Series
	// WattHoursPeriod is the energy produced in each reporting period.
	WattHoursPeriod series.Series
	// WattHours is the cumulative energy per day. The API may omit it.
	WattHours series.Series
	// WattHoursDay has one entry per calendar day.
	WattHoursDay series.Series

	// APIRateLimit is the request limit the API reported in the body.
	APIRateLimit int

	Place     string
	Latitude  float64
	Longitude float64

	timezone string
	loc      *time.Location
	now      func() time.Time
}

type estimatePayload struct {
	Result *struct {
		Watts           json.RawMessage `json:"watts"`
		WattHoursPeriod json.RawMessage `json:"watt_hours_period"`
		WattHours       json.RawMessage `json:"watt_hours"`
		WattHoursDay    json.RawMessage `json:"watt_hours_day"`
	} `json:"result"`
	Message *struct {
		RateLimit *struct {
			Limit *int `json:"limit"`
		} `json:"ratelimit"`
		Info *struct {
			Timezone  *string `json:"timezone"`
			Place     string  `json:"place"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"info"`
	} `json:"message"`
}

func missing(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// ParseEstimate builds an Estimate from the body of an estimate response. now
// is the clock used for all derived values; nil means time.Now.
func ParseEstimate(body []byte, now func() time.Time) (*Estimate, error) {
	var p estimatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, wrapError(KindMalformedResponse, "failed to decode estimate", err)
	}
	if p.Result == nil || missing(p.Result.Watts) || missing(p.Result.WattHoursPeriod) || missing(p.Result.WattHoursDay) {
		return nil, newError(KindMalformedResponse, "invalid data format: missing result series")
	}
	if p.Message == nil || p.Message.RateLimit == nil || p.Message.RateLimit.Limit == nil {
		return nil, newError(KindMalformedResponse, "invalid data format: missing message.ratelimit.limit")
	}
	if p.Message.Info == nil || p.Message.Info.Timezone == nil {
		return nil, newError(KindMalformedResponse, "invalid data format: missing message.info.timezone")
	}

	loc, err := time.LoadLocation(*p.Message.Info.Timezone)
	if err != nil {
		return nil, wrapError(KindMalformedResponse, "unknown timezone "+*p.Message.Info.Timezone, err)
	}

	e := &Estimate{
		APIRateLimit: *p.Message.RateLimit.Limit,
		Place:        p.Message.Info.Place,
		Latitude:     p.Message.Info.Latitude,
		Longitude:    p.Message.Info.Longitude,
		timezone:     *p.Message.Info.Timezone,
		loc:          loc,
		now:          now,
	}
	if e.now == nil {
		e.now = time.Now
	}

	for _, s := range []struct {
		name string
		raw  json.RawMessage
		dest *series.Series
	}{
		{"watts", p.Result.Watts, &e.Watts},
		{"watt_hours_period", p.Result.WattHoursPeriod, &e.WattHoursPeriod},
		{"watt_hours_day", p.Result.WattHoursDay, &e.WattHoursDay},
		{"watt_hours", p.Result.WattHours, &e.WattHours},
	} {
		if missing(s.raw) {
			continue
		}
		parsed, err := series.Parse(s.raw, loc)
		if err != nil {
			return nil, wrapError(KindMalformedResponse, "invalid "+s.name, err)
		}
		*s.dest = parsed
	}
	return e, nil
}

// Timezone returns the IANA timezone the API reported.
func (e *Estimate) Timezone() string {
	return e.timezone
}

// Location returns the loaded timezone.
func (e *Estimate) Location() *time.Location {
	return e.loc
}

// Now returns the current time in the API's timezone.
func (e *Estimate) Now() time.Time {
	return e.now().In(e.loc)
}

// AccountType derives the subscription tier from the reported rate limit.
func (e *Estimate) AccountType() AccountType {
	switch e.APIRateLimit {
	case 60:
		return AccountPersonal
	case 5:
		return AccountProfessional
	default:
		return AccountPublic
	}
}

// EnergyProductionToday returns the forecast watt hours for today.
func (e *Estimate) EnergyProductionToday() int {
	return e.DayProduction(e.Now())
}

// EnergyProductionTomorrow returns the forecast watt hours for tomorrow.
func (e *Estimate) EnergyProductionTomorrow() int {
	return e.DayProduction(e.Now().AddDate(0, 0, 1))
}

// EnergyProductionTodayRemaining returns the watt hours still expected today.
func (e *Estimate) EnergyProductionTodayRemaining() int {
	now := e.Now()
	return e.WattHoursPeriod.SumBetween(now, endOfDay(now))
}

// PowerProductionNow returns the forecast power right now.
func (e *Estimate) PowerProductionNow() (int, bool) {
	return e.PowerProductionAtTime(e.Now())
}

// PowerHighestPeakTimeToday returns when power peaks today.
func (e *Estimate) PowerHighestPeakTimeToday() (time.Time, error) {
	return e.PeakProductionTime(e.Now())
}

// PowerHighestPeakTimeTomorrow returns when power peaks tomorrow.
func (e *Estimate) PowerHighestPeakTimeTomorrow() (time.Time, error) {
	return e.PeakProductionTime(e.Now().AddDate(0, 0, 1))
}

// EnergyCurrentHour returns the watt hours forecast for the current clock hour.
func (e *Estimate) EnergyCurrentHour() int {
	start := startOfHour(e.Now())
	return e.WattHoursPeriod.SumBetween(start, start.Add(time.Hour))
}

// SumEnergyProduction returns the watt hours forecast for the next hours.
// The window starts at the last millisecond of the current hour so the
// current, partial hour is not counted.
func (e *Estimate) SumEnergyProduction(hours int) int {
	now := e.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 59, 59, int(999*time.Millisecond), now.Location())
	return e.WattHoursPeriod.SumBetween(from, from.Add(time.Duration(hours)*time.Hour))
}

// DayProduction returns the watt hours forecast for day, 0 if the forecast
// does not cover it.
func (e *Estimate) DayProduction(day time.Time) int {
	return e.WattHoursDay.DayValue(day.In(e.loc))
}

// PeakProductionTime returns when power peaks on day.
func (e *Estimate) PeakProductionTime(day time.Time) (time.Time, error) {
	t, err := e.Watts.PeakTime(day.In(e.loc))
	if err != nil {
		if errors.Is(err, series.ErrNoPoints) {
			return time.Time{}, wrapError(KindNoPeakFound, "no peak production time found", err)
		}
		return time.Time{}, err
	}
	return t.In(e.loc), nil
}

// PowerProductionAtTime returns the forecast power at t.
func (e *Estimate) PowerProductionAtTime(t time.Time) (int, bool) {
	return e.Watts.ValueAt(t)
}

// Summary holds every derived value of an Estimate at a single instant.
type Summary struct {
	Timezone                       string      `json:"timezone"`
	AccountType                    AccountType `json:"accountType"`
	Now                            time.Time   `json:"now"`
	EnergyProductionToday          int         `json:"energyProductionToday"`
	EnergyProductionTomorrow       int         `json:"energyProductionTomorrow"`
	EnergyProductionTodayRemaining int         `json:"energyProductionTodayRemaining"`
	EnergyCurrentHour              int         `json:"energyCurrentHour"`
	PowerProductionNow             *int        `json:"powerProductionNow"`
	PowerHighestPeakTimeToday      *time.Time  `json:"powerHighestPeakTimeToday"`
	PowerHighestPeakTimeTomorrow   *time.Time  `json:"powerHighestPeakTimeTomorrow"`
	SumEnergyProduction            map[int]int `json:"sumEnergyProduction"`
}

// Summary computes all derived values. Missing peaks and power are left nil.
func (e *Estimate) Summary() Summary {
	s := Summary{
		Timezone:                       e.timezone,
		AccountType:                    e.AccountType(),
		Now:                            e.Now(),
		EnergyProductionToday:          e.EnergyProductionToday(),
		EnergyProductionTomorrow:       e.EnergyProductionTomorrow(),
		EnergyProductionTodayRemaining: e.EnergyProductionTodayRemaining(),
		EnergyCurrentHour:              e.EnergyCurrentHour(),
		SumEnergyProduction:            make(map[int]int, len(SummaryHours)),
	}
	if w, ok := e.PowerProductionNow(); ok {
		s.PowerProductionNow = &w
	}
	if t, err := e.PowerHighestPeakTimeToday(); err == nil {
		s.PowerHighestPeakTimeToday = &t
	}
	if t, err := e.PowerHighestPeakTimeTomorrow(); err == nil {
		s.PowerHighestPeakTimeTomorrow = &t
	}
	for _, h := range SummaryHours {
		s.SumEnergyProduction[h] = e.SumEnergyProduction(h)
	}
	return s
}

func startOfHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
