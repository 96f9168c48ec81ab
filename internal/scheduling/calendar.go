package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar day format used for date keys and requests.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD day and returns its midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduling: invalid date %q", value)
	}
	return d, nil
}

// DateKey is the calendar day of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// SlotStart combines a calendar day with a slot label into an absolute instant.
func SlotStart(date string, label string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	minutes, ok := ParseClock(label)
	if !ok {
		return time.Time{}, fmt.Errorf("scheduling: invalid time slot %q", label)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location()), nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
