package data

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

var (
	ErrNotFound    = errors.New("data not found")
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
)

// SnapshotSource answers "all appointments for tenant X on date D".
type SnapshotSource interface {
	// Snapshot returns the tenant's appointments on date, ordered by start
	// time. A tenant without appointments yields an empty snapshot.
	Snapshot(ctx context.Context, tenantID, date string) (*Snapshot, error)

	// Close releases any resources
	Close() error
}

// ParseDate validates a YYYY-MM-DD date in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// DayBounds returns the half-open interval [start, end) covering date in loc.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Today formats now as a calendar date in loc.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}
