package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"daily-nudge/internal/model"
	"daily-nudge/internal/repository"
)

// CalendarContentType is the media type of exported plans.
const CalendarContentType = "text/calendar; charset=utf-8"

const (
	icsTimeLayout = "20060102T150405Z"
	icsLineLimit  = 75
	icsProdID     = "-//daily-nudge//plan export//EN"
)

// CalendarService renders stored plans as iCalendar documents.
type CalendarService struct {
	plans repository.PlanStore
	now   func() time.Time
}

func NewCalendarService(plans repository.PlanStore) *CalendarService {
	return &CalendarService{plans: plans, now: time.Now}
}

// WithClock replaces the clock used for DTSTAMP.
func (s *CalendarService) WithClock(now func() time.Time) *CalendarService {
	s.now = now
	return s
}

// Export returns the plan of userID for date as an iCalendar document.
// It returns repository.ErrNotFound when no plan is stored for that date.
func (s *CalendarService) Export(ctx context.Context, userID, date string) ([]byte, error) {
	plan, err := s.plans.Get(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	return RenderCalendar(userID, plan, s.now()), nil
}

// CalendarFilename is the attachment name for a plan export.
func CalendarFilename(date string) string {
	return fmt.Sprintf("plan-%s.ics", date)
}

// RenderCalendar writes plan as a VCALENDAR with one VEVENT per task. Apart
// from DTSTAMP the output depends only on userID and plan.
func RenderCalendar(userID string, plan model.Plan, stamp time.Time) []byte {
	var buf bytes.Buffer
	w := icsWriter{buf: &buf}
	dtstamp := stamp.UTC().Format(icsTimeLayout)

	w.line("BEGIN:VCALENDAR")
	w.line("VERSION:2.0")
	w.line("PRODID:" + icsProdID)
	w.line("CALSCALE:GREGORIAN")
	w.line("METHOD:PUBLISH")
	for i, task := range plan.Tasks {
		w.line("BEGIN:VEVENT")
		w.line(fmt.Sprintf("UID:%s-%s-%d", userID, plan.Date, i))
		w.line("DTSTAMP:" + dtstamp)
		w.line("DTSTART:" + task.Start.UTC().Format(icsTimeLayout))
		w.line("DTEND:" + task.End.UTC().Format(icsTimeLayout))
		w.line("SUMMARY:" + escapeText(task.Title))
		if task.Location != "" {
			w.line("LOCATION:" + escapeText(task.Location))
		}
		if task.Category != "" {
			w.line("CATEGORIES:" + escapeText(task.Category))
		}
		if desc := taskDescription(task); desc != "" {
			w.line("DESCRIPTION:" + escapeText(desc))
		}
		w.line("END:VEVENT")
	}
	w.line("END:VCALENDAR")
	return buf.Bytes()
}

func taskDescription(task model.Task) string {
	var prompts []string
	for _, p := range task.InputPrompts {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, "- "+p)
		}
	}
	if len(prompts) == 0 {
		return ""
	}
	return "Before you start:\n" + strings.Join(prompts, "\n")
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", "",
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

type icsWriter struct {
	buf *bytes.Buffer
}

// line writes a content line folded at 75 octets. Continuation lines start
// with one space and never split a UTF-8 sequence.
func (w icsWriter) line(s string) {
	limit := icsLineLimit
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		w.buf.WriteString(s[:cut])
		w.buf.WriteString("\r\n ")
		s = s[cut:]
		limit = icsLineLimit - 1
	}
	w.buf.WriteString(s)
	w.buf.WriteString("\r\n")
}
