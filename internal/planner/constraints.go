package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"daily-nudge/internal/model"
)

// Default planning window when the caller does not pass one.
const (
	DefaultWindowStart = "06:00"
	DefaultWindowEnd   = "22:00"
)

// ErrInvalidConstraints is returned for unparseable dates, windows or zones.
var ErrInvalidConstraints = errors.New("invalid planning constraints")

// Constraints bound the plan a generator may produce.
type Constraints struct {
	TargetDate          string // YYYY-MM-DD
	WindowStart         string // HH:MM, local
	WindowEnd           string // HH:MM, local
	Timezone            string
	IncludeInputPrompts bool
}

// Window is Constraints resolved to absolute times.
type Window struct {
	Day      time.Time // midnight of TargetDate in Location
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// WithDefaults fills in an empty window.
func (c Constraints) WithDefaults() Constraints {
	if strings.TrimSpace(c.WindowStart) == "" {
		c.WindowStart = DefaultWindowStart
	}
	if strings.TrimSpace(c.WindowEnd) == "" {
		c.WindowEnd = DefaultWindowEnd
	}
	return c
}

// Resolve converts the constraints into absolute window bounds.
func (c Constraints) Resolve() (Window, error) {
	c = c.WithDefaults()
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("%w: timezone %q", ErrInvalidConstraints, c.Timezone)
	}
	day, err := model.ParseDate(c.TargetDate, loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidConstraints, err)
	}
	start, err := clockOn(day, c.WindowStart)
	if err != nil {
		return Window{}, fmt.Errorf("%w: window start: %v", ErrInvalidConstraints, err)
	}
	end, err := clockOn(day, c.WindowEnd)
	if err != nil {
		return Window{}, fmt.Errorf("%w: window end: %v", ErrInvalidConstraints, err)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: window start %s is not before end %s", ErrInvalidConstraints, c.WindowStart, c.WindowEnd)
	}
	return Window{Day: day, Start: start, End: end, Location: loc}, nil
}

// Contains reports whether [start, end] lies inside the window.
func (w Window) Contains(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}

// clockOn parses HH:MM (or HH:MM:SS) as a wall-clock time on day.
func clockOn(day time.Time, value string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return time.Time{}, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid minute in %q", value)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return time.Time{}, fmt.Errorf("invalid second in %q", value)
		}
	}
	if hour == 24 && (minute != 0 || sec != 0) {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, sec, 0, day.Location()), nil
}
