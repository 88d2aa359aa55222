package planner

import (
	"strings"
	"time"

	"daily-nudge/internal/model"
)

type planDoc struct {
	Tasks []rawTask `json:"tasks"`
}

type rawTask struct {
	Title        string   `json:"title"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Category     string   `json:"category"`
	Location     string   `json:"location"`
	NeedsInput   bool     `json:"needsInput"`
	InputPrompts []string `json:"inputPrompts"`
}

// buildTasks converts raw tasks into model tasks sorted by start. Tasks
// without a title, with unparseable times, with start >= end or outside the
// window are dropped; the number dropped is returned.
func buildTasks(doc planDoc, w Window, includePrompts bool) ([]model.Task, int) {
	tasks := make([]model.Task, 0, len(doc.Tasks))
	dropped := 0
	for _, rt := range doc.Tasks {
		task, ok := toTask(rt, w, includePrompts)
		if !ok {
			dropped++
			continue
		}
		tasks = append(tasks, task)
	}
	model.SortTasks(tasks)
	return tasks, dropped
}

func toTask(rt rawTask, w Window, includePrompts bool) (model.Task, bool) {
	title := strings.TrimSpace(rt.Title)
	if title == "" {
		return model.Task{}, false
	}
	start, err := parseTaskTime(rt.Start, w)
	if err != nil {
		return model.Task{}, false
	}
	end, err := parseTaskTime(rt.End, w)
	if err != nil {
		return model.Task{}, false
	}

	task := model.Task{
		Title:        title,
		Start:        start,
		End:          end,
		Category:     strings.TrimSpace(rt.Category),
		Location:     strings.TrimSpace(rt.Location),
		InputPrompts: []string{},
	}
	if task.Validate() != nil || !w.Contains(start, end) {
		return model.Task{}, false
	}

	if includePrompts {
		for _, p := range rt.InputPrompts {
			if p = strings.TrimSpace(p); p != "" {
				task.InputPrompts = append(task.InputPrompts, p)
			}
		}
		task.NeedsInput = rt.NeedsInput || len(task.InputPrompts) > 0
	}
	return task, true
}

// parseTaskTime accepts a local HH:MM on the plan date or an RFC 3339
// timestamp, which is converted into the plan timezone.
func parseTaskTime(value string, w Window) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "T") {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(w.Location), nil
	}
	return clockOn(w.Day, value)
}
