package ingest

import (
	"errors"
	"fmt"
)

// ErrNoContent reports that a fetch succeeded but produced no usable text.
var ErrNoContent = errors.New("no content")

// FetchErrorKind classifies fetch failures.
type FetchErrorKind int

const (
	// FetchTransient failures abandon one item; the batch continues.
	FetchTransient FetchErrorKind = iota
	// FetchBlocked failures mean the upstream refuses further requests.
	FetchBlocked
)

func (k FetchErrorKind) String() string {
	if k == FetchBlocked {
		return "blocked"
	}
	return "transient"
}

// FetchError is returned by fetchers and discoverers.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a recoverable fetch failure.
func Transient(url string, err error) error {
	return &FetchError{Kind: FetchTransient, URL: url, Err: err}
}

// Blocked wraps err as an upstream-exhausted fetch failure.
func Blocked(url string, err error) error {
	return &FetchError{Kind: FetchBlocked, URL: url, Err: err}
}

// IsBlocked reports whether err carries a FetchBlocked classification.
func IsBlocked(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchBlocked
}

// FatalError aborts a whole batch.
type FatalError struct {
	URL string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("upstream blocked at %s: %v", e.URL, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is (or wraps) a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
