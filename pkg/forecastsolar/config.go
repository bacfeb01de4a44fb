package forecastsolar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/solarcast/forecastsolar/pkg/common"
)

// Configured sets up a Client from flags. The plane flags are required and
// validated once flags are parsed.
func Configured() *Client {
	c := New(Options{}, common.HTTPClient(30*time.Second))

	baseURL := lflag.String("forecast-solar-url", DefaultBaseURL, "URL for the forecast.solar API")
	apiKey := lflag.String("forecast-solar-api-key", "", "API key for a personal or professional forecast.solar account (optional)")
	timeout := lflag.Duration("forecast-solar-timeout", 30*time.Second, "Timeout for requests to forecast.solar")
	latitude := lflag.RequiredString("latitude", "Latitude of the plane in degrees")
	longitude := lflag.RequiredString("longitude", "Longitude of the plane in degrees")
	declination := lflag.RequiredString("declination", "Declination of the plane, 0 is horizontal and 90 vertical")
	azimuth := lflag.RequiredString("azimuth", "Azimuth of the plane, -180 is north, -90 east, 0 south, 90 west")
	kwp := lflag.RequiredString("kwp", "Installed modules power in kilowatt peak")
	damping := lflag.String("damping", "0", "Damping factor applied to the forecast")
	dampingMorning := lflag.String("damping-morning", "", "Morning damping factor, only used together with damping-evening")
	dampingEvening := lflag.String("damping-evening", "", "Evening damping factor, only used together with damping-morning")
	horizon := lflag.String("horizon", "", "Comma-delimited horizon obstruction angles (optional)")
	inverter := lflag.String("inverter", "", "Maximum inverter output in kilowatts (optional)")

	lflag.Do(func() {
		opts := Options{
			BaseURL: *baseURL,
			APIKey:  strings.TrimSpace(*apiKey),
		}
		var err error
		for _, f := range []struct {
			name string
			val  string
			dest *float64
		}{
			{"latitude", *latitude, &opts.Latitude},
			{"longitude", *longitude, &opts.Longitude},
			{"declination", *declination, &opts.Declination},
			{"azimuth", *azimuth, &opts.Azimuth},
			{"kwp", *kwp, &opts.KWP},
			{"damping", *damping, &opts.Damping},
		} {
			if *f.dest, err = strconv.ParseFloat(strings.TrimSpace(f.val), 64); err != nil {
				panic(fmt.Sprintf("invalid %s (%s): %v", f.name, f.val, err))
			}
		}
		if opts.DampingMorning, err = optionalFloat(*dampingMorning); err != nil {
			panic(fmt.Sprintf("invalid damping-morning: %v", err))
		}
		if opts.DampingEvening, err = optionalFloat(*dampingEvening); err != nil {
			panic(fmt.Sprintf("invalid damping-evening: %v", err))
		}
		if opts.Inverter, err = optionalFloat(*inverter); err != nil {
			panic(fmt.Sprintf("invalid inverter: %v", err))
		}
		if h := strings.TrimSpace(*horizon); h != "" {
			opts.Horizon = &h
		}
		if err := opts.Validate(); err != nil {
			panic(fmt.Sprintf("forecast.solar validation failed: %v", err))
		}

		c.opts = opts
		c.client.Timeout = *timeout
	})

	return c
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
