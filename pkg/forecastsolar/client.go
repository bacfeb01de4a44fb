package forecastsolar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/solarcast/forecastsolar/pkg/log"
)

// DefaultBaseURL is the public forecast.solar endpoint.
const DefaultBaseURL = "https://api.forecast.solar/"

// Options describes the solar plane and account used for requests.
type Options struct {
	BaseURL string
	APIKey  string

	Latitude    float64
	Longitude   float64
	Declination float64
	Azimuth     float64
	KWP         float64

	Damping float64
	// DampingMorning and DampingEvening are only sent when both are set.
	DampingMorning *float64
	DampingEvening *float64
	Horizon        *string
	// Inverter is the maximum inverter output in kW.
	Inverter *float64
}

// Validate checks that the plane is within the ranges the API accepts.
func (o Options) Validate() error {
	if o.BaseURL != "" {
		if _, err := url.Parse(o.BaseURL); err != nil {
			return fmt.Errorf("failed to parse forecast.solar url (%s): %w", o.BaseURL, err)
		}
	}
	if o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90: %v", o.Latitude)
	}
	if o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180: %v", o.Longitude)
	}
	if o.Declination < 0 || o.Declination > 90 {
		return fmt.Errorf("declination must be between 0 and 90: %v", o.Declination)
	}
	if o.Azimuth < -180 || o.Azimuth > 180 {
		return fmt.Errorf("azimuth must be between -180 and 180: %v", o.Azimuth)
	}
	if o.KWP <= 0 {
		return fmt.Errorf("kwp must be positive: %v", o.KWP)
	}
	if o.Damping < 0 || o.Damping > 1 {
		return fmt.Errorf("damping must be between 0 and 1: %v", o.Damping)
	}
	if o.Inverter != nil && *o.Inverter <= 0 {
		return fmt.Errorf("inverter must be positive: %v", *o.Inverter)
	}
	return nil
}

// RequestOptions controls a single call to Request.
type RequestOptions struct {
	// RateLimit parses the X-Ratelimit-* headers of a successful response.
	RateLimit bool
	// Authenticate prefixes the path with the API key, if one is set.
	Authenticate bool
	Params       url.Values
}

// DefaultRequestOptions authenticates and parses rate limit headers.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{RateLimit: true, Authenticate: true}
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client talks to the forecast.solar API.
type Client struct {
	opts   Options
	client *http.Client
	now    func() time.Time

	// mu guards now and rateLimit
	mu        sync.Mutex
	rateLimit *RateLimit
}

// New returns a client for opts. An empty BaseURL uses DefaultBaseURL.
func New(opts Options, client *http.Client) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		opts:   opts,
		client: client,
		now:    time.Now,
	}
}

// Options returns the options the client was configured with.
func (c *Client) Options() Options {
	return c.opts
}

// SetClock replaces the clock handed to every Estimate the client returns.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Client) clock() func() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// RateLimit returns the rate limit parsed from the last response that had one.
func (c *Client) RateLimit() (RateLimit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimit == nil {
		return RateLimit{}, false
	}
	return *c.rateLimit, true
}

func (c *Client) requestURL(endpoint string, ro RequestOptions) (*url.URL, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forecast.solar url: %w", err)
	}

	// segments are already escaped, the key may contain anything
	var segments []string
	if ro.Authenticate && c.opts.APIKey != "" {
		segments = append(segments, url.PathEscape(c.opts.APIKey))
	}
	if base := strings.Trim(u.EscapedPath(), "/"); base != "" {
		segments = append(segments, base)
	}
	if endpoint = strings.Trim(endpoint, "/"); endpoint != "" {
		segments = append(segments, endpoint)
	}

	rawPath := "/" + strings.Join(segments, "/")
	if u.Path, err = url.PathUnescape(rawPath); err != nil {
		return nil, fmt.Errorf("invalid endpoint (%s): %w", endpoint, err)
	}
	u.RawPath = rawPath
	if ro.Params != nil {
		u.RawQuery = ro.Params.Encode()
	}
	return u, nil
}

// redact hides the API key when logging a request URL.
func (c *Client) redact(u *url.URL) string {
	s := u.String()
	if c.opts.APIKey == "" {
		return s
	}
	return strings.Replace(s, "/"+url.PathEscape(c.opts.APIKey)+"/", "/REDACTED/", 1)
}

// Request performs a GET against endpoint and classifies the response. A nil
// error means the status was below 500 and not one of the statuses the API
// uses for errors.
func (c *Client) Request(ctx context.Context, endpoint string, ro RequestOptions) (*Response, error) {
	u, err := c.requestURL(endpoint, ro)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "requesting forecast.solar", slog.String("url", c.redact(u)))

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "forecast.solar request failed", slog.Any("error", err))
		return nil, wrapError(KindConnection, "failed to reach forecast.solar", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindConnection, "failed to read response", err)
	}

	if err := classify(resp.StatusCode, body); err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"forecast.solar returned an error",
			slog.Int("status", resp.StatusCode),
			slog.Any("error", err),
		)
		// a rejected call still reports when the quota resets
		if ro.RateLimit && KindOf(err) == KindRateLimit {
			if rl, rlErr := RateLimitFromHeaders(resp.Header); rlErr == nil {
				c.setRateLimit(ctx, rl)
			}
		}
		return nil, err
	}

	if ro.RateLimit {
		rl, err := RateLimitFromHeaders(resp.Header)
		if err != nil {
			return nil, err
		}
		c.setRateLimit(ctx, rl)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) setRateLimit(ctx context.Context, rl RateLimit) {
	c.mu.Lock()
	c.rateLimit = &rl
	c.mu.Unlock()
	log.Ctx(ctx).DebugContext(
		ctx,
		"forecast.solar rate limit",
		slog.Int("limit", rl.CallLimit),
		slog.Int("remaining", rl.RemainingCalls),
		slog.Int("period", rl.Period),
	)
}

// classify maps a response status to an error. Statuses of 500 and above other
// than 502 and 503 are not classified and come back as a plain error.
func classify(status int, body []byte) error {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return newError(KindConnection, "the forecast.solar API is currently unavailable")
	case http.StatusBadRequest:
		return newError(KindRequest, errorMessage(status, body))
	case http.StatusUnauthorized, http.StatusForbidden:
		return newError(KindAuthentication, errorMessage(status, body))
	case http.StatusUnprocessableEntity:
		return newError(KindConfig, errorMessage(status, body))
	case http.StatusTooManyRequests:
		return newError(KindRateLimit, errorMessage(status, body))
	}
	if status >= 500 {
		return fmt.Errorf("forecast.solar returned status: %d", status)
	}
	return nil
}

// errorMessage pulls the message out of an error body. The API sends either a
// plain string or an object with a text field.
func errorMessage(status int, body []byte) string {
	var res struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &res); err == nil && len(res.Message) > 0 {
		var text string
		if err := json.Unmarshal(res.Message, &text); err == nil && text != "" {
			return text
		}
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(res.Message, &obj); err == nil && obj.Text != "" {
			return obj.Text
		}
	}
	return http.StatusText(status)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Client) planePath() string {
	return strings.Join([]string{
		formatFloat(c.opts.Latitude),
		formatFloat(c.opts.Longitude),
		formatFloat(c.opts.Declination),
		formatFloat(c.opts.Azimuth),
		formatFloat(c.opts.KWP),
	}, "/")
}

func (c *Client) estimateParams() url.Values {
	params := url.Values{}
	params.Set("time", "iso8601")
	params.Set("damping", formatFloat(c.opts.Damping))
	if c.opts.Inverter != nil {
		params.Set("inverter", formatFloat(*c.opts.Inverter))
	}
	if c.opts.Horizon != nil {
		params.Set("horizon", *c.opts.Horizon)
	}
	if c.opts.DampingMorning != nil && c.opts.DampingEvening != nil {
		params.Set("dampingMorning", formatFloat(*c.opts.DampingMorning))
		params.Set("dampingEvening", formatFloat(*c.opts.DampingEvening))
	}
	return params
}

// Estimate fetches the production forecast for the configured plane.
func (c *Client) Estimate(ctx context.Context) (*Estimate, error) {
	ro := DefaultRequestOptions()
	ro.Params = c.estimateParams()
	resp, err := c.Request(ctx, "estimate/"+c.planePath(), ro)
	if err != nil {
		return nil, err
	}

	e, err := ParseEstimate(resp.Body, c.clock())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to parse estimate", slog.Any("error", err))
		return nil, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"got estimate",
		slog.String("timezone", e.Timezone()),
		slog.Int("watts", e.Watts.Len()),
		slog.Int("days", e.WattHoursDay.Len()),
	)
	return e, nil
}

// ValidatePlane checks the plane parameters without an API key.
func (c *Client) ValidatePlane(ctx context.Context) (bool, error) {
	_, err := c.Request(ctx, "check/"+c.planePath(), RequestOptions{})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ValidateAPIKey checks that the configured API key is accepted.
func (c *Client) ValidateAPIKey(ctx context.Context) (bool, error) {
	_, err := c.Request(ctx, "info", DefaultRequestOptions())
	if err != nil {
		return false, err
	}
	return true, nil
}
