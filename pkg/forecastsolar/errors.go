package forecastsolar

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the class of a forecast.solar failure.
type ErrorKind int

const (
	KindConnection ErrorKind = iota + 1
	KindRequest
	KindAuthentication
	KindConfig
	KindRateLimit
	KindMissingRateLimitHeaders
	KindMalformedResponse
	KindNoPeakFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRequest:
		return "request"
	case KindAuthentication:
		return "authentication"
	case KindConfig:
		return "config"
	case KindRateLimit:
		return "rate limit"
	case KindMissingRateLimitHeaders:
		return "missing rate limit headers"
	case KindMalformedResponse:
		return "malformed response"
	case KindNoPeakFound:
		return "no peak found"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned for every failure the client classifies. Kind tells the
// caller what went wrong and Message carries the API's text when there is one.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "forecast.solar " + e.Kind.String() + " error"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnection              = &Error{Kind: KindConnection}
	ErrRequest                 = &Error{Kind: KindRequest}
	ErrAuthentication          = &Error{Kind: KindAuthentication}
	ErrConfig                  = &Error{Kind: KindConfig}
	ErrRateLimit               = &Error{Kind: KindRateLimit}
	ErrMissingRateLimitHeaders = &Error{Kind: KindMissingRateLimitHeaders}
	ErrMalformedResponse       = &Error{Kind: KindMalformedResponse}
	ErrNoPeakFound             = &Error{Kind: KindNoPeakFound}
)

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, otherwise 0.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
