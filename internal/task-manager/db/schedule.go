package db

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var timeOfDayLayouts = []string{"15:04", "15:04:05"}

var ErrInvalidSchedule = errors.New("invalid schedule")

// ScheduledInstant joins a calendar date and a time-of-day string into one
// instant in loc. ok is false when either part is missing, which exempts the
// task from auto-transition. A present but unparseable value is an error.
func ScheduledInstant(date, timeOfDay *string, loc *time.Location) (time.Time, bool, error) {
	if date == nil || timeOfDay == nil {
		return time.Time{}, false, nil
	}
	d, tod := strings.TrimSpace(*date), strings.TrimSpace(*timeOfDay)
	if d == "" || tod == "" {
		return time.Time{}, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	day, err := time.ParseInLocation(DateLayout, d, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: date %q: %v", ErrInvalidSchedule, d, err)
	}
	clock, err := parseTimeOfDay(tod)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: time %q: %v", ErrInvalidSchedule, tod, err)
	}

	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, loc), true, nil
}

func parseTimeOfDay(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// DateIn formats the calendar date of t as seen in loc.
func DateIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ValidateSchedulePair checks a date/time pair supplied by an API caller.
// Both parts must be set together.
func ValidateSchedulePair(date, timeOfDay *string) error {
	if (date == nil) != (timeOfDay == nil) {
		return fmt.Errorf("%w: date and time must be provided together", ErrInvalidSchedule)
	}
	_, _, err := ScheduledInstant(date, timeOfDay, time.UTC)
	return err
}
