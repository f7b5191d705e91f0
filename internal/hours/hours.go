package hours

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeFormat is returned when a configured hour cannot be
// normalized into a time of day.
var ErrInvalidTimeFormat = errors.New("invalid time format")

// TimeOfDay is a clock time normalized to seconds since midnight. The value
// 86400 (24:00:00) is allowed as an end-of-day window bound.
type TimeOfDay int

// Hour returns the hour component.
func (t TimeOfDay) Hour() int {
	return int(t) / 3600
}

// Minute returns the minute component.
func (t TimeOfDay) Minute() int {
	return int(t) % 3600 / 60
}

// Second returns the second component.
func (t TimeOfDay) Second() int {
	return int(t) % 60
}

// String formats the time of day as HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// FromClock extracts the time of day from a wall-clock timestamp.
func FromClock(ts time.Time) TimeOfDay {
	return TimeOfDay(ts.Hour()*3600 + ts.Minute()*60 + ts.Second())
}

// Parse normalizes one configured hour value into a TimeOfDay. Accepted
// shapes, matching what deployments put into ALLOWED_HOURS:
//   - a whole hour ("8", "08") -> 08:00:00
//   - a clock string ("08:36" or "08:36:15") parsed literally
//   - a fractional hour ("17.5") -> integer part is the hour, the fraction
//     rounds to minutes (17:30:00); a fraction that rounds to 60 minutes
//     carries into the next hour
//
// Anything else fails with ErrInvalidTimeFormat.
func Parse(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidTimeFormat)
	}

	if strings.Contains(s, ":") {
		return parseClock(s)
	}

	if isDigits(s) {
		hour, err := strconv.Atoi(s)
		if err != nil || hour < 0 || hour > 23 {
			return 0, fmt.Errorf("%w: hour %q out of range", ErrInvalidTimeFormat, s)
		}
		return TimeOfDay(hour * 3600), nil
	}

	if frac, err := strconv.ParseFloat(s, 64); err == nil {
		if frac < 0 || frac >= 24 {
			return 0, fmt.Errorf("%w: fractional hour %q out of range", ErrInvalidTimeFormat, s)
		}
		hour := int(frac)
		minute := int(math.Round((frac - float64(hour)) * 60))
		if minute == 60 {
			hour++
			minute = 0
		}
		return TimeOfDay(hour*3600 + minute*60), nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
}

// parseClock parses "HH:MM" or "HH:MM:SS" literally.
func parseClock(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: hour in %q out of range", ErrInvalidTimeFormat, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: minute in %q out of range", ErrInvalidTimeFormat, s)
	}

	second := 0
	if len(parts) == 3 {
		second, err = strconv.Atoi(parts[2])
		if err != nil || second < 0 || second > 59 {
			return 0, fmt.Errorf("%w: second in %q out of range", ErrInvalidTimeFormat, s)
		}
	}

	return TimeOfDay(hour*3600 + minute*60 + second), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Window is an inclusive allowed time-of-day range.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether t lies within the window. Both bounds are
// inclusive.
func (w Window) Contains(t TimeOfDay) bool {
	return t >= w.Start && t <= w.End
}

// String formats the window as "HH:MM:SS-HH:MM:SS".
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// ParseWindow builds a Window from two configured bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := Parse(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := Parse(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}
