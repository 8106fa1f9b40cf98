// Package clock converts instants into the civil calendar of the configured
// timezone. Day keys and minute offsets are computed from the location's wall
// clock, so DST transitions and non-hour offsets are handled by the tz database.
package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata"
)

// DateKeyLayout is the civil date format used as the per-day key.
const DateKeyLayout = "2006-01-02"

var timeOfDayPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at now.
func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to now.
func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// DateKey returns the YYYY-MM-DD civil date of instant in loc.
func DateKey(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format(DateKeyLayout)
}

// MinutesSinceMidnight returns the civil minute of day of instant in loc, in [0,1439].
func MinutesSinceMidnight(instant time.Time, loc *time.Location) int {
	local := instant.In(loc)
	return local.Hour()*60 + local.Minute()
}

// ParseTimeOfDay parses an HH:MM string into minutes since midnight.
func ParseTimeOfDay(value string) (int, error) {
	if !timeOfDayPattern.MatchString(value) {
		return 0, fmt.Errorf("time must be in HH:MM format: %q", value)
	}
	hours, _ := strconv.Atoi(value[:2])
	minutes, _ := strconv.Atoi(value[3:])
	if hours > 23 || minutes > 59 {
		return 0, fmt.Errorf("time out of range: %q", value)
	}
	return hours*60 + minutes, nil
}

// ScheduledAt returns the instant a dose at timeOfDay falls on dateKey in loc.
func ScheduledAt(dateKey, timeOfDay string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateKeyLayout, dateKey, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", dateKey, err)
	}
	minutes, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, loc), nil
}

// FormatTimeOfDay renders an HH:MM value as a 12-hour label, e.g. "08:00 AM".
func FormatTimeOfDay(timeOfDay string) string {
	minutes, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return timeOfDay
	}
	return time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format("03:04 PM")
}
