package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel causes wrapped by the fetch error types.
var (
	ErrEmptyBody        = errors.New("empty response body")
	ErrNotFound         = errors.New("page not found")
	ErrMalformedURL     = errors.New("malformed url")
	ErrRendererDisabled = errors.New("renderer disabled")
	ErrNoArticles       = errors.New("listing produced no articles")
)

// TransientFetchError marks failures worth retrying: timeouts, 5xx, empty bodies.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient fetch error for %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError marks failures that must not be retried: 404, malformed targets.
type PermanentFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PermanentFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent fetch error for %s: %v", e.URL, e.Err)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// ParseError reports an unexpected page structure. Index is the row or stub
// position, or -1 for a page-level failure.
type ParseError struct {
	URL   string
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("parse %s item %d: %v", e.URL, e.Index, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FatalRunError means no papers can be produced; the run ends Failed and
// nothing is persisted.
type FatalRunError struct {
	Stage Stage
	Err   error
}

func (e *FatalRunError) Error() string {
	return fmt.Sprintf("run failed during %s: %v", e.Stage, e.Err)
}

func (e *FatalRunError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// ClassifyStatus maps an HTTP status code to the fetch error taxonomy.
// 2xx yields nil.
func ClassifyStatus(url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return &PermanentFetchError{URL: url, StatusCode: code, Err: ErrNotFound}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &TransientFetchError{URL: url, StatusCode: code, Err: errors.New(http.StatusText(code))}
	default:
		return &PermanentFetchError{URL: url, StatusCode: code, Err: fmt.Errorf("unexpected status %d", code)}
	}
}

// Cause groups partial failures in the run diagnostics.
type Cause string

// Known causes.
const (
	CauseTransient    Cause = "transient"
	CausePermanent    Cause = "permanent"
	CauseParse        Cause = "parse"
	CauseNoDetailLink Cause = "no_detail_link"
	CauseCanceled     Cause = "canceled"
	CauseDuplicateKey Cause = "duplicate_key"
	CauseNotify       Cause = "notify"
	CauseUnknown      Cause = "unknown"
)

// CauseOf classifies err for diagnostics.
func CauseOf(err error) Cause {
	var (
		parseErr     *ParseError
		permanentErr *PermanentFetchError
		transientErr *TransientFetchError
	)
	switch {
	case err == nil:
		return CauseUnknown
	// Typed errors win: a transport timeout wraps context.DeadlineExceeded
	// but is still a transient fetch failure.
	case errors.As(err, &parseErr):
		return CauseParse
	case errors.As(err, &permanentErr):
		return CausePermanent
	case errors.As(err, &transientErr):
		return CauseTransient
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CauseCanceled
	default:
		return CauseUnknown
	}
}
