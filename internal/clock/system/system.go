// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements ingest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the elapsed time from start, measured in UTC.
func (c Clock) Since(start time.Time) time.Duration {
	return c.Now().Sub(start)
}
