package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors returned by stores.
var (
	ErrNotFound  = errors.New("resource not found")
	ErrDuplicate = errors.New("duplicate key violation")
)

// ErrorKind classifies why a fetch-extract run failed.
type ErrorKind string

// Failure kinds recognised by the scrape pipeline.
const (
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindParse      ErrorKind = "parse"
	KindUnexpected ErrorKind = "unexpected"
)

// FetchError is the typed failure returned by a fetch-extract run.
// StatusCode is only set for KindHTTPStatus.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// UserMessage renders the failure the way it is shown on a page record.
func (e *FetchError) UserMessage() string {
	if e.Kind != KindHTTPStatus {
		return e.Error()
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return "Rate limited by website. Too many requests."
	case http.StatusForbidden:
		return "Access forbidden. The website is blocking automated requests."
	case http.StatusNotFound:
		return "Page not found (404)."
	default:
		text := http.StatusText(e.StatusCode)
		if text == "" {
			text = "unexpected status"
		}
		return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, text)
	}
}

// NetworkError wraps a transport level failure (timeout, DNS, refused).
func NetworkError(err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Err: err}
}

// HTTPStatusError reports a non-2xx response.
func HTTPStatusError(code int) *FetchError {
	return &FetchError{
		Kind:       KindHTTPStatus,
		StatusCode: code,
		Message:    fmt.Sprintf("HTTP Error %d", code),
	}
}

// ParseError wraps a failure while reading or parsing the document.
func ParseError(err error) *FetchError {
	return &FetchError{Kind: KindParse, Err: err}
}

// UnexpectedError wraps anything the fetch-extract contract does not name,
// including recovered panics.
func UnexpectedError(err error) *FetchError {
	return &FetchError{Kind: KindUnexpected, Err: err}
}

// Classify maps any error onto the taxonomy. Deadlines count as network
// failures, cancellation as unexpected. A nil error yields nil.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	// A canceled run was stopped by its caller, not by the transport.
	if errors.Is(err, context.Canceled) {
		return UnexpectedError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError(err)
	}
	return UnexpectedError(err)
}
