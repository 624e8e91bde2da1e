// Package system provides clock implementations for stamping runs.
package system

import "time"

// Clock returns the wall time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Runs stamped with it produce
// reproducible artifact names.
type Fixed struct {
	At time.Time
}

// Now returns f.At in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
