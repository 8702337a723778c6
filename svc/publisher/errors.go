package publisher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredentials is returned when no platform credentials exist for
	// the target account. Permanent: retrying will not conjure a token.
	ErrNoCredentials = errors.New("publisher: no credentials for account")

	// ErrMediaNotFound is returned when a referenced media object does not
	// exist in storage.
	ErrMediaNotFound = errors.New("publisher: media object not found")
)

// Kind classifies a publish failure for retry purposes.
type Kind int

const (
	// KindTransient marks failures worth retrying: network errors,
	// timeouts, rate limits, upstream 5xx.
	KindTransient Kind = iota

	// KindPermanent marks failures no retry will fix: revoked tokens,
	// forbidden accounts, content the platform rejects.
	KindPermanent
)

// Error is a classified publish failure.
type Error struct {
	Kind       Kind
	StatusCode int // upstream HTTP status, 0 for network-level failures
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("publisher: %s (status %d)", e.Message, e.StatusCode)
	}
	return "publisher: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable publish failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// Permanent wraps err as a non-retryable publish failure.
func Permanent(msg string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: msg, Err: err}
}

// IsPermanent reports whether err is classified as non-retryable. An
// unclassified error counts as transient so flaky unknowns get their full
// retry budget.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrMediaNotFound) {
		return true
	}
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}

// classifyStatus maps an upstream HTTP status to a failure kind. Rate
// limits and timeouts are retryable alongside server errors; everything
// else in the 4xx range means the request itself is unacceptable.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return KindTransient
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

// statusError builds a classified Error from an upstream response.
func statusError(code int, msg string) *Error {
	return &Error{Kind: classifyStatus(code), StatusCode: code, Message: msg}
}
