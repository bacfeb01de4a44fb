package series

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoPoints is returned by PeakTime when no point falls on the requested day.
var ErrNoPoints = errors.New("no points found for day")

// keyLayouts are tried in order when parsing the keys of a series object.
// The date-only and space separated layouts carry no offset and are parsed in
// the series' location.
var keyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Point is a single timestamped value.
type Point struct {
	Time  time.Time `json:"time"`
	Value int       `json:"value"`
}

// Series is an ordered list of points. The order is the one the API returned
// and is never changed; SumBetween and ValueAt stop scanning based on it.
type Series []Point

// Parse decodes a JSON object mapping timestamps to numbers into a Series,
// keeping the order in which the keys appear. Keys without an offset are
// interpreted in loc.
func Parse(data []byte, loc *time.Location) (Series, error) {
	if loc == nil {
		loc = time.UTC
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("series must be a json object, got %v", tok)
	}

	var s Series
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read series key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected series key %v", tok)
		}
		ts, err := parseKey(key, loc)
		if err != nil {
			return nil, err
		}

		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("failed to read value for %s: %w", key, err)
		}
		v, err := numberToInt(n)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		s = append(s, Point{Time: ts, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read end of series: %w", err)
	}
	return s, nil
}

func parseKey(key string, loc *time.Location) (time.Time, error) {
	for _, layout := range keyLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, key)
		} else {
			t, err = time.ParseInLocation(layout, key, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid series timestamp: %q", key)
}

func numberToInt(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s)
}

// First returns the first point in the series.
func (s Series) First() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[0], true
}

// Last returns the last point in the series.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// ValueAt returns the value of the latest point at or before at. A value is
// only returned when a later point exists to bound it, so asking for a time
// past the end of the series reports no value.
func (s Series) ValueAt(at time.Time) (int, bool) {
	var (
		value int
		found bool
	)
	for _, p := range s {
		if p.Time.After(at) {
			return value, found
		}
		value = p.Value
		found = true
	}
	return 0, false
}

// SumBetween sums the values of points with begin <= t < end. Scanning stops
// at the first point at or after end.
func (s Series) SumBetween(begin, end time.Time) int {
	var total int
	for _, p := range s {
		if p.Time.Before(begin) {
			continue
		}
		if !p.Time.Before(end) {
			break
		}
		total += p.Value
	}
	return total
}

// PeakTime returns the time of the highest value on the calendar day of day,
// compared in day's location. Ties go to the earliest point.
func (s Series) PeakTime(day time.Time) (time.Time, error) {
	var (
		peak  Point
		found bool
	)
	for _, p := range s {
		if !SameDay(p.Time, day) {
			continue
		}
		if !found || p.Value > peak.Value {
			peak = p
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoPoints, day.Format(time.DateOnly))
	}
	return peak.Time, nil
}

// DayValue returns the value of the point on the calendar day of day or 0 if
// there is none.
func (s Series) DayValue(day time.Time) int {
	for _, p := range s {
		if SameDay(p.Time, day) {
			return p.Value
		}
	}
	return 0
}

// SameDay reports whether t falls on the same calendar date as day in day's
// location.
func SameDay(t, day time.Time) bool {
	ty, tm, td := t.In(day.Location()).Date()
	dy, dm, dd := day.Date()
	return ty == dy && tm == dm && td == dd
}
