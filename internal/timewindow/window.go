// Package timewindow decides which time-of-day casting window is active.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (and tolerates "HH:MM:SS") into a Clock.
func ParseClock(value string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 {
		return Clock{}, fmt.Errorf("invalid time %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid time %q: out of range", value)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// MustParseClock is ParseClock for known-good literals; it panics on error.
func MustParseClock(value string) Clock {
	clock, err := ParseClock(value)
	if err != nil {
		panic(err)
	}
	return clock
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// Span is a casting window between two times of day. A span whose End
// precedes its Start wraps past midnight.
type Span struct {
	Start Clock
	End   Clock
}

// Contains reports whether now falls inside the span. Both boundaries
// are inclusive, for wrapping and non-wrapping spans alike.
func (s Span) Contains(now time.Time) bool {
	current := now.Hour()*60 + now.Minute()
	start := s.Start.minutes()
	end := s.End.minutes()

	if start <= end {
		return start <= current && current <= end
	}
	// Wraps past midnight.
	return current >= start || current <= end
}

// ActiveIndex selects the active span for the current time. Spans are
// evaluated in order and the last match wins; overlapping windows defer
// to the later entry in the list. When nothing matches, index 0 is
// returned with active=false as the fallback default.
func ActiveIndex(spans []Span, now time.Time) (int, bool) {
	selected := 0
	active := false
	for i, span := range spans {
		if span.Contains(now) {
			selected = i
			active = true
		}
	}
	return selected, active
}
