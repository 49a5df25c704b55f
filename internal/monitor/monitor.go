// Package monitor holds the domain types shared by the scheduling core:
// monitors, probe results and the failure reasons a probe can report.
package monitor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid monitor")

// Monitor is a user-configured target checked every Interval minutes.
type Monitor struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	IntervalMinutes int       `json:"interval"`
	Active          bool      `json:"active"`
	UserID          string    `json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Interval returns the check interval as a duration.
func (m Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalMinutes) * time.Minute
}

// Validate checks the user-editable fields.
func (m Monitor) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if m.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(m.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url %q must be an absolute http(s) url", ErrInvalid, m.URL)
	}
	if m.IntervalMinutes < 1 {
		return fmt.Errorf("%w: interval must be at least 1 minute, got %d", ErrInvalid, m.IntervalMinutes)
	}
	return nil
}
