package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
	"daily-nudge/internal/push"
	"daily-nudge/internal/repository"
)

// Daily reminder contents.
const (
	ReminderTitle = "Plan tomorrow"
	ReminderBody  = "Take two minutes to describe tomorrow. I will turn it into a plan."
	ReminderURL   = "/plan"
)

const minuteKeyLayout = "2006-01-02T15:04Z"

// Notifier delivers a payload to a user.
type Notifier interface {
	Send(ctx context.Context, userID string, p model.Payload) error
}

// ReminderService sends the daily planning reminder at each subscribed
// user's preferred local time.
type ReminderService struct {
	subs     repository.SubscriptionStore
	prefs    repository.PreferenceStore
	notifier Notifier

	running   atomic.Bool
	lastFired sync.Map // userID -> minute key

	now     func() time.Time
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewReminderService(stores repository.Stores, n Notifier, m *metrics.Metrics, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		subs:     stores.Subscriptions,
		prefs:    stores.Preferences,
		notifier: n,
		now:      time.Now,
		metrics:  m,
		log:      log,
	}
}

// WithClock replaces the clock used by scheduled sweeps.
func (s *ReminderService) WithClock(now func() time.Time) *ReminderService {
	s.now = now
	return s
}

// ReminderPayload is the fixed daily reminder.
func ReminderPayload() model.Payload {
	return model.Payload{Title: ReminderTitle, Body: ReminderBody, URL: ReminderURL}
}

// Register runs a sweep at the top of every minute on sched.
func (s *ReminderService) Register(ctx context.Context, sched *SchedulerService) error {
	_, err := sched.Schedule(EveryMinute, func() {
		s.Sweep(ctx, s.now())
	})
	return err
}

// RegisterMaintenance prunes reminder bookkeeping once a day at the HH:MM
// (scheduler time) given by at.
func (s *ReminderService) RegisterMaintenance(ctx context.Context, sched *SchedulerService, at string) error {
	_, err := sched.ScheduleDaily(at, func() {
		s.Prune(ctx, s.now())
	})
	return err
}

// Prune forgets the last-fired minute of users that no longer have a
// subscription or whose entry is older than the minute of now. It returns
// the number of entries dropped.
func (s *ReminderService) Prune(ctx context.Context, now time.Time) int {
	users, err := s.subs.UserIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list subscribed users for pruning")
		return 0
	}
	subscribed := make(map[string]struct{}, len(users))
	for _, id := range users {
		subscribed[id] = struct{}{}
	}

	current := now.UTC().Truncate(time.Minute).Format(minuteKeyLayout)
	dropped := 0
	s.lastFired.Range(func(k, v any) bool {
		_, ok := subscribed[k.(string)]
		if ok && v.(string) >= current {
			return true
		}
		if s.lastFired.CompareAndDelete(k, v) {
			dropped++
		}
		return true
	})
	s.log.Info().Int("dropped", dropped).Msg("reminder bookkeeping pruned")
	return dropped
}

// Sweep sends the reminder to every subscribed user whose preferred
// hour:minute equals now in their timezone, and returns the number of
// successful sends. A sweep that starts while another is running does
// nothing. Each user gets at most one reminder per matching minute.
func (s *ReminderService) Sweep(ctx context.Context, now time.Time) int {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.Sweep("skipped")
		s.log.Debug().Msg("reminder sweep already running")
		return 0
	}
	defer s.running.Store(false)

	users, err := s.subs.UserIDs(ctx)
	if err != nil {
		s.metrics.Sweep("error")
		s.log.Error().Err(err).Msg("list subscribed users")
		return 0
	}

	minute := now.UTC().Truncate(time.Minute).Format(minuteKeyLayout)
	sendCtx := push.WithSource(ctx, push.SourceReminder)
	sent := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		if !s.due(ctx, userID, now) {
			continue
		}
		if prev, ok := s.lastFired.Load(userID); ok && prev.(string) == minute {
			continue
		}
		s.lastFired.Store(userID, minute)

		err := s.notifier.Send(sendCtx, userID, ReminderPayload())
		switch {
		case err == nil:
			sent++
		case errors.Is(err, push.ErrNoSubscription):
			s.log.Debug().Str("user", userID).Msg("subscription gone before reminder")
		default:
			s.log.Warn().Err(err).Str("user", userID).Msg("daily reminder failed")
		}
	}

	s.metrics.Sweep("completed")
	if sent > 0 {
		s.log.Info().Int("sent", sent).Str("minute", minute).Msg("daily reminders sent")
	}
	return sent
}

func (s *ReminderService) due(ctx context.Context, userID string, now time.Time) bool {
	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("load reminder preference")
		return false
	}
	loc, err := pref.Location()
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("invalid reminder timezone")
		return false
	}
	local := now.In(loc)
	return local.Hour() == pref.ReminderHour && local.Minute() == pref.ReminderMinute
}
