package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daily-nudge/internal/llm"
	"daily-nudge/internal/model"
	"daily-nudge/internal/planner"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/timers"
)

const gymAndReport = `{"tasks":[
  {"title":"Gym","start":"07:00","end":"08:00","category":"health","location":"City gym"},
  {"title":"Write report","start":"10:00","end":"12:00","category":"work","needsInput":true,"inputPrompts":["Which sections are missing?"]}
]}`

type stubCompleter struct {
	reply string
	err   error
	calls atomic.Int32
}

func (s *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	s.calls.Add(1)
	return s.reply, s.err
}

type scheduledNudge struct {
	UserID  string
	FireAt  time.Time
	Payload model.Payload
}

// recordingTimers records calls in order and tracks pending nudges per user.
type recordingTimers struct {
	mu      sync.Mutex
	calls   []string
	pending map[string][]scheduledNudge
}

func newRecordingTimers() *recordingTimers {
	return &recordingTimers{pending: make(map[string][]scheduledNudge)}
}

func (r *recordingTimers) Schedule(userID string, fireAt time.Time, p model.Payload) (timers.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "schedule:"+p.Title)
	r.pending[userID] = append(r.pending[userID], scheduledNudge{UserID: userID, FireAt: fireAt, Payload: p})
	return timers.Handle{ID: p.Title, UserID: userID, FireAt: fireAt}, nil
}

func (r *recordingTimers) CancelAll(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "cancel")
	n := len(r.pending[userID])
	delete(r.pending, userID)
	return n
}

func (r *recordingTimers) Pending(userID string) []scheduledNudge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduledNudge(nil), r.pending[userID]...)
}

func (r *recordingTimers) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type planFixture struct {
	svc       *PlanService
	stores    repository.Stores
	timers    *recordingTimers
	completer *stubCompleter
	now       time.Time
}

func newPlanFixture(t *testing.T, now time.Time, reply string) *planFixture {
	t.Helper()
	f := &planFixture{
		stores:    repository.NewMemoryStores("UTC"),
		timers:    newRecordingTimers(),
		completer: &stubCompleter{reply: reply},
		now:       now,
	}
	gen := planner.NewGenerator(f.completer, time.Second, nil, zerolog.Nop())
	f.svc = NewPlanService(f.stores, repository.NewGate(), f.timers, gen, nil, zerolog.Nop()).
		WithClock(func() time.Time { return f.now })
	return f
}

func scenarioRequest() CommitRequest {
	return CommitRequest{
		UserID:     "u1",
		FreeText:   "Gym at 7, write report 10-12",
		TargetDate: "2024-06-02",
		Constraints: planner.Constraints{
			WindowStart:         "06:00",
			WindowEnd:           "20:00",
			Timezone:            "UTC",
			IncludeInputPrompts: true,
		},
	}
}

func TestCommit_ScenarioSchedulesNudgesAndIsIdempotent(t *testing.T) {
	f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), gymAndReport)
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, scenarioRequest())
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.False(t, res.Fallback)
	require.Len(t, res.Plan.Tasks, 2)
	assert.Equal(t, "2024-06-02", res.Plan.Date)

	pending := f.timers.Pending("u1")
	require.Len(t, pending, 2)
	assert.Equal(t, time.Date(2024, 6, 2, 6, 50, 0, 0, time.UTC), pending[0].FireAt.UTC())
	assert.Equal(t, time.Date(2024, 6, 2, 9, 50, 0, 0, time.UTC), pending[1].FireAt.UTC())
	assert.Equal(t, model.Payload{Title: "Gym", Body: "Starts at 07:00 · City gym", URL: TodayURL}, pending[0].Payload)
	assert.Equal(t, model.Payload{Title: "Write report", Body: "Which sections are missing?", URL: TodayURL}, pending[1].Payload)

	again, err := f.svc.Commit(ctx, scenarioRequest())
	require.NoError(t, err)
	assert.False(t, again.Committed)
	assert.Equal(t, res.Plan, again.Plan)
	assert.Len(t, f.timers.Pending("u1"), 2)
	assert.Equal(t, int32(1), f.completer.calls.Load())
	assert.Equal(t, []string{"cancel", "schedule:Gym", "schedule:Write report"}, f.timers.Calls())
}

func TestCommit_NewDateReplacesNudges(t *testing.T) {
	f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), gymAndReport)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, scenarioRequest())
	require.NoError(t, err)

	f.completer.reply = `{"tasks":[{"title":"Dentist","start":"09:00","end":"10:00"}]}`
	next := scenarioRequest()
	next.TargetDate = "2024-06-03"
	res, err := f.svc.Commit(ctx, next)
	require.NoError(t, err)
	assert.True(t, res.Committed)

	pending := f.timers.Pending("u1")
	require.Len(t, pending, 1)
	assert.Equal(t, "Dentist", pending[0].Payload.Title)
	assert.Equal(t, []string{
		"cancel", "schedule:Gym", "schedule:Write report",
		"cancel", "schedule:Dentist",
	}, f.timers.Calls())

	_, err = f.svc.Plan(ctx, "u1", "2024-06-02")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	stored, err := f.svc.Plan(ctx, "u1", "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, res.Plan, stored)
}

func TestCommit_SkipsNudgesNotInFuture(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"before both", time.Date(2024, 6, 2, 6, 0, 0, 0, time.UTC), []string{"Gym", "Write report"}},
		{"exactly at first nudge", time.Date(2024, 6, 2, 6, 50, 0, 0, time.UTC), []string{"Write report"}},
		{"between", time.Date(2024, 6, 2, 9, 49, 0, 0, time.UTC), []string{"Write report"}},
		{"after both", time.Date(2024, 6, 2, 9, 55, 0, 0, time.UTC), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlanFixture(t, tt.now, gymAndReport)
			res, err := f.svc.Commit(context.Background(), scenarioRequest())
			require.NoError(t, err)
			assert.True(t, res.Committed)
			assert.Len(t, res.Plan.Tasks, 2)

			var got []string
			for _, n := range f.timers.Pending("u1") {
				got = append(got, n.Payload.Title)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommit_FallbackStillMarksDay(t *testing.T) {
	f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), "")
	f.completer.err = errors.New("backend down")
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, scenarioRequest())
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Plan.Tasks)
	assert.Equal(t, "2024-06-02", res.Plan.Date)
	assert.Equal(t, "UTC", res.Plan.Timezone)
	assert.Empty(t, f.timers.Pending("u1"))

	again, err := f.svc.Commit(ctx, scenarioRequest())
	require.NoError(t, err)
	assert.False(t, again.Committed)
	assert.Equal(t, int32(1), f.completer.calls.Load())
}

func TestCommit_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CommitRequest)
	}{
		{"missing user", func(r *CommitRequest) { r.UserID = "  " }},
		{"missing text", func(r *CommitRequest) { r.FreeText = "" }},
		{"bad date", func(r *CommitRequest) { r.TargetDate = "2024-13-01" }},
		{"bad timezone", func(r *CommitRequest) { r.Constraints.Timezone = "Mars/Base" }},
		{"inverted window", func(r *CommitRequest) { r.Constraints.WindowStart = "21:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), gymAndReport)
			req := scenarioRequest()
			tt.mutate(&req)

			_, err := f.svc.Commit(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, f.timers.Calls())
			assert.Zero(t, f.completer.calls.Load())
		})
	}
}

func TestCommit_DefaultsFromPreference(t *testing.T) {
	// 20:00 UTC on June 1 is already June 2 in Tokyo.
	f := newPlanFixture(t, time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC), `{"tasks":[]}`)
	ctx := context.Background()
	require.NoError(t, f.stores.Preferences.Set(ctx, "u1", model.Preference{ReminderHour: 21, Timezone: "Asia/Tokyo"}))

	res, err := f.svc.Commit(ctx, CommitRequest{UserID: "u1", FreeText: "quiet day"})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", res.Plan.Date)
	assert.Equal(t, "Asia/Tokyo", res.Plan.Timezone)

	today, err := f.svc.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", today)
}

func TestCommit_ConcurrentSameUserCommitsOnce(t *testing.T) {
	f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), gymAndReport)

	var committed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Commit(context.Background(), scenarioRequest())
			if err == nil && res.Committed {
				committed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(1), f.completer.calls.Load())
	assert.Len(t, f.timers.Pending("u1"), 2)
}

func TestCommit_UsersDoNotShareGate(t *testing.T) {
	f := newPlanFixture(t, time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC), gymAndReport)
	ctx := context.Background()

	a := scenarioRequest()
	b := scenarioRequest()
	b.UserID = "u2"

	ra, err := f.svc.Commit(ctx, a)
	require.NoError(t, err)
	rb, err := f.svc.Commit(ctx, b)
	require.NoError(t, err)

	assert.True(t, ra.Committed)
	assert.True(t, rb.Committed)
	assert.Len(t, f.timers.Pending("u1"), 2)
	assert.Len(t, f.timers.Pending("u2"), 2)
}

func TestCommit_WithRealRegistry(t *testing.T) {
	stores := repository.NewMemoryStores("UTC")
	reg := timers.NewRegistry(nopNotifier{}, 0, nil, zerolog.Nop())
	t.Cleanup(reg.Stop)

	now := time.Now().UTC()
	start := now.Add(2 * time.Hour).Truncate(time.Minute)
	reply := `{"tasks":[{"title":"Deep work","start":"` + start.Format(time.RFC3339) + `","end":"` + start.Add(time.Hour).Format(time.RFC3339) + `"}]}`
	gen := planner.NewGenerator(&stubCompleter{reply: reply}, time.Second, nil, zerolog.Nop())
	svc := NewPlanService(stores, repository.NewGate(), reg, gen, nil, zerolog.Nop())

	res, err := svc.Commit(context.Background(), CommitRequest{
		UserID:      "u1",
		FreeText:    "deep work in two hours",
		TargetDate:  now.Format(model.DateLayout),
		Constraints: planner.Constraints{WindowStart: "00:00", WindowEnd: "24:00", Timezone: "UTC"},
	})
	require.NoError(t, err)

	if start.Add(time.Hour).Format(model.DateLayout) != now.Format(model.DateLayout) {
		t.Skip("task crosses midnight")
	}
	require.Len(t, res.Plan.Tasks, 1)
	assert.Equal(t, 1, reg.Pending("u1"))
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, model.Payload) error { return nil }

func TestTaskPayload(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2024, 6, 2, 7, 0, 0, 0, time.UTC)

	p := TaskPayload(model.Task{Title: "Run", Start: start, End: start.Add(time.Hour)}, loc)
	assert.Equal(t, model.Payload{Title: "Run", Body: "Starts at 09:00", URL: TodayURL}, p)

	p = TaskPayload(model.Task{Title: "Run", Start: start, InputPrompts: []string{" ", "Which route?"}}, loc)
	assert.Equal(t, "Which route?", p.Body)
}
