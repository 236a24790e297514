// Package system provides a real clock implementation.
package system

import "time"

// Clock implements the cluster and scrape Clock interfaces using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
