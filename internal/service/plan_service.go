package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
	"daily-nudge/internal/planner"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/timers"
)

// ErrInvalidRequest is returned for commits that cannot be processed.
var ErrInvalidRequest = errors.New("invalid request")

// NudgeLead is how long before a task starts its nudge fires.
const NudgeLead = 10 * time.Minute

// TodayURL is opened when a task nudge is clicked.
const TodayURL = "/today"

// PlanGenerator produces a plan for a free-form description.
type PlanGenerator interface {
	Generate(ctx context.Context, freeText string, c planner.Constraints) planner.Result
}

// TimerScheduler arms and cancels per-user deliveries.
type TimerScheduler interface {
	Schedule(userID string, fireAt time.Time, p model.Payload) (timers.Handle, error)
	CancelAll(userID string) int
}

// CommitRequest asks for today's (or TargetDate's) plan of a user.
type CommitRequest struct {
	UserID   string
	FreeText string
	// TargetDate overrides Constraints.TargetDate when set.
	TargetDate  string
	Constraints planner.Constraints
}

// CommitResult reports whether a new plan was committed. When Committed is
// false Plan is the plan already stored for the day. Fallback is set when
// the committed plan is the empty plan used after a failed generation.
type CommitResult struct {
	Committed bool
	Fallback  bool
	Plan      model.Plan
}

// PlanService commits plans once per user per day and keeps the user's
// nudges in sync with the latest plan.
type PlanService struct {
	plans     repository.PlanStore
	prefs     repository.PreferenceStore
	gate      *repository.Gate
	timers    TimerScheduler
	generator PlanGenerator

	locks sync.Map // userID -> *sync.Mutex

	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewPlanService(stores repository.Stores, gate *repository.Gate, t TimerScheduler, gen PlanGenerator, m *metrics.Metrics, log zerolog.Logger) *PlanService {
	return &PlanService{
		plans:     stores.Plans,
		prefs:     stores.Preferences,
		gate:      gate,
		timers:    t,
		generator: gen,
		now:       time.Now,
		metrics:   m,
		log:       log,
	}
}

// WithClock replaces the wall clock used for defaults and past-task checks.
func (s *PlanService) WithClock(now func() time.Time) *PlanService {
	s.now = now
	return s
}

func (s *PlanService) userLock(userID string) *sync.Mutex {
	if v, ok := s.locks.Load(userID); ok {
		return v.(*sync.Mutex)
	}
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Commit generates and stores the user's plan for the target date unless
// one was already committed for that date. Commits of one user are
// serialized; commits of different users never wait on each other.
func (s *PlanService) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return CommitResult{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.FreeText) == "" {
		return CommitResult{}, fmt.Errorf("%w: freeText is required", ErrInvalidRequest)
	}

	c, loc, err := s.resolveConstraints(ctx, userID, req)
	if err != nil {
		return CommitResult{}, err
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if date, ok := s.gate.Date(userID); ok && date == c.TargetDate {
		plan, err := s.plans.Get(ctx, userID, c.TargetDate)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			plan = model.EmptyPlan(c.TargetDate, c.Timezone)
		case err != nil:
			s.metrics.Commit("error")
			return CommitResult{}, fmt.Errorf("load plan: %w", err)
		}
		s.metrics.Commit("skipped")
		s.log.Debug().Str("user", userID).Str("date", c.TargetDate).Msg("plan already committed today")
		return CommitResult{Committed: false, Plan: plan}, nil
	}

	canceled := s.timers.CancelAll(userID)

	res := s.generator.Generate(ctx, req.FreeText, c)
	plan := res.Plan
	if err := s.plans.Put(ctx, userID, plan); err != nil {
		s.metrics.Commit("error")
		return CommitResult{}, fmt.Errorf("store plan: %w", err)
	}

	now := s.now()
	scheduled := 0
	for _, task := range plan.Tasks {
		fireAt := task.Start.Add(-NudgeLead)
		if !fireAt.After(now) {
			continue
		}
		if _, err := s.timers.Schedule(userID, fireAt, TaskPayload(task, loc)); err != nil {
			s.log.Warn().Err(err).Str("user", userID).Str("task", task.Title).Msg("failed to schedule nudge")
			continue
		}
		scheduled++
	}

	s.gate.Mark(userID, c.TargetDate)
	s.metrics.Commit("committed")
	s.log.Info().
		Str("user", userID).
		Str("date", c.TargetDate).
		Int("tasks", len(plan.Tasks)).
		Int("scheduled", scheduled).
		Int("canceled", canceled).
		Bool("fallback", res.IsFallback()).
		Msg("plan committed")

	return CommitResult{Committed: true, Fallback: res.IsFallback(), Plan: plan}, nil
}

// Plan returns the stored plan of userID for date.
func (s *PlanService) Plan(ctx context.Context, userID, date string) (model.Plan, error) {
	return s.plans.Get(ctx, userID, date)
}

// Today resolves the user's current date in their preference timezone.
func (s *PlanService) Today(ctx context.Context, userID string) (string, error) {
	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	loc, err := pref.Location()
	if err != nil {
		return "", err
	}
	return s.now().In(loc).Format(model.DateLayout), nil
}

func (s *PlanService) resolveConstraints(ctx context.Context, userID string, req CommitRequest) (planner.Constraints, *time.Location, error) {
	c := req.Constraints.WithDefaults()
	if req.TargetDate != "" {
		c.TargetDate = req.TargetDate
	}
	if strings.TrimSpace(c.Timezone) == "" {
		pref, err := s.prefs.Get(ctx, userID)
		if err != nil {
			return c, nil, fmt.Errorf("load preferences: %w", err)
		}
		c.Timezone = pref.Timezone
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return c, nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRequest, c.Timezone)
	}
	if c.TargetDate == "" {
		c.TargetDate = s.now().In(loc).Format(model.DateLayout)
	}
	if _, err := c.Resolve(); err != nil {
		return c, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c, loc, nil
}

// TaskPayload builds the nudge shown shortly before a task starts.
func TaskPayload(task model.Task, loc *time.Location) model.Payload {
	body := ""
	for _, p := range task.InputPrompts {
		if p = strings.TrimSpace(p); p != "" {
			body = p
			break
		}
	}
	if body == "" {
		body = "Starts at " + task.Start.In(loc).Format("15:04")
		if place := strings.TrimSpace(task.Location); place != "" {
			body += " · " + place
		}
	}
	return model.Payload{Title: task.Title, Body: body, URL: TodayURL}
}
