package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/seenimoa/filingwatch/internal/infra"
)

// ErrorKind tells the caller whether a failed fetch is worth retrying later.
type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
)

// ErrNoFiling is wrapped by permanent errors when the source has no document
// for the requested period.
var ErrNoFiling = errors.New("no filing for period")

// FetchError is the error type every fetcher returns.
type FetchError struct {
	Kind       ErrorKind
	Source     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch error from %s", e.Kind, e.Source)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient fetch error.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

// IsPermanent reports whether err is a permanent fetch error.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// NewPermanent builds a permanent error.
func NewPermanent(source, url string, err error) *FetchError {
	return &FetchError{Kind: Permanent, Source: source, URL: url, Err: err}
}

// NoFiling builds the permanent "nothing filed" error.
func NoFiling(source, detail string) *FetchError {
	return &FetchError{Kind: Permanent, Source: source, Err: fmt.Errorf("%w: %s", ErrNoFiling, detail)}
}

// Classify converts a transport error into a FetchError. HTTP 408, 429 and
// 5xx, timeouts and network failures are transient; other 4xx are permanent.
// Caller cancellation is returned unchanged.
func Classify(source, url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var he *infra.ErrHTTP
	if errors.As(err, &he) {
		kind := Permanent
		if he.StatusCode == http.StatusTooManyRequests ||
			he.StatusCode == http.StatusRequestTimeout ||
			he.StatusCode >= 500 {
			kind = Transient
		}
		return &FetchError{Kind: kind, Source: source, URL: url, StatusCode: he.StatusCode, Err: err}
	}

	// timeouts, resets and other transport failures
	return &FetchError{Kind: Transient, Source: source, URL: url, Err: err}
}
