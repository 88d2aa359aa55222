package model

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-date format used for plan keys.
const DateLayout = "2006-01-02"

// Task is a single time-boxed item in a day plan.
type Task struct {
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Category     string    `json:"category,omitempty"`
	Location     string    `json:"location,omitempty"`
	NeedsInput   bool      `json:"needsInput"`
	InputPrompts []string  `json:"inputPrompts"`
}

// Validate checks that Start is before End.
func (t Task) Validate() error {
	if !t.Start.Before(t.End) {
		return fmt.Errorf("task %q: start %s is not before end %s", t.Title, t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339))
	}
	return nil
}

// Plan is the committed set of tasks for one user on one date.
type Plan struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
	Tasks    []Task `json:"tasks"`
}

// EmptyPlan returns a plan with no tasks for the given date and timezone.
func EmptyPlan(date, timezone string) Plan {
	return Plan{Date: date, Timezone: timezone, Tasks: []Task{}}
}

// SortTasks orders tasks ascending by start time, keeping input order for ties.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Start.Before(tasks[j].Start)
	})
}

// Clone returns a deep copy so callers cannot mutate a stored plan.
func (p Plan) Clone() Plan {
	out := Plan{Date: p.Date, Timezone: p.Timezone, Tasks: make([]Task, len(p.Tasks))}
	for i, t := range p.Tasks {
		if t.InputPrompts != nil {
			t.InputPrompts = append([]string{}, t.InputPrompts...)
		}
		out.Tasks[i] = t
	}
	return out
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return d, nil
}
