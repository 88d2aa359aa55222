package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daily-nudge/internal/llm"
	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
	"daily-nudge/internal/planner"
	"daily-nudge/internal/push"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/service"
	"daily-nudge/internal/timers"
)

const scenarioReply = `{"tasks":[
  {"title":"Gym","start":"07:00","end":"08:00"},
  {"title":"Write report","start":"10:00","end":"12:00"}
]}`

type replyCompleter string

func (c replyCompleter) Complete(context.Context, llm.Request) (string, error) {
	return string(c), nil
}

type fakeCoach struct{}

func (fakeCoach) Suggest(_ context.Context, goals []model.Goal) []model.Suggestion {
	if len(goals) == 0 {
		return nil
	}
	return []model.Suggestion{{Title: "Focus on " + goals[0].Title, Type: "insight", RelevanceScore: 0.9}}
}

func (fakeCoach) Analyze(_ context.Context, g model.Goal) model.Insight {
	return model.Insight{Insight: g.Title + " is on track", NextStep: "Keep going"}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []model.Payload
	err  error
}

func (r *recordingSender) Send(_ context.Context, _ model.Subscription, p model.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, p)
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	stores   repository.Stores
	registry *timers.Registry
	sender   *recordingSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	m := metrics.New()
	stores := repository.NewMemoryStores("UTC")
	sender := &recordingSender{}
	dispatcher := push.NewDispatcher(stores.Subscriptions, map[string]push.Sender{model.KindWebPush: sender}, nil, m, log)

	now := time.Date(2024, 6, 2, 5, 0, 0, 0, time.UTC)
	registry := timers.NewRegistry(dispatcher, 0, m, log).WithClock(func() time.Time { return now })
	t.Cleanup(registry.Stop)

	gen := planner.NewGenerator(replyCompleter(scenarioReply), time.Second, m, log)
	plans := service.NewPlanService(stores, repository.NewGate(), registry, gen, m, log).
		WithClock(func() time.Time { return now })
	calendar := service.NewCalendarService(stores.Plans).WithClock(func() time.Time { return now })

	s := NewServer(Deps{
		Planner:        plans,
		Calendar:       calendar,
		Preferences:    stores.Preferences,
		Subscriptions:  stores.Subscriptions,
		Notifier:       dispatcher,
		Coach:          fakeCoach{},
		VAPIDPublicKey: "BPublicKey",
		CORSOrigins:    []string{"http://localhost:5173"},
		Metrics:        m.Handler(),
	}, log)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, stores: stores, registry: registry, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func commitBody() map[string]any {
	return map[string]any{
		"userId":      "u1",
		"freeText":    "Gym at 7, write report 10-12",
		"date":        "2024-06-02",
		"windowStart": "06:00",
		"windowEnd":   "20:00",
		"timezone":    "UTC",
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"ok": true}, decode[map[string]bool](t, resp))
}

func TestCommit_ScenarioAndRepeat(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/plan/commit", commitBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[CommitResponse](t, resp)
	assert.True(t, first.CommittedToday)
	require.Len(t, first.Plan.Tasks, 2)
	assert.Equal(t, "Gym", first.Plan.Tasks[0].Title)
	assert.Equal(t, 2, e.registry.Pending("u1"))

	resp = e.do(t, http.MethodPost, "/api/plan/commit", commitBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[CommitResponse](t, resp)
	assert.False(t, second.CommittedToday)
	assert.Equal(t, first.Plan.Date, second.Plan.Date)
	require.Len(t, second.Plan.Tasks, 2)
	assert.True(t, first.Plan.Tasks[1].Start.Equal(second.Plan.Tasks[1].Start))
	assert.Equal(t, 2, e.registry.Pending("u1"))

	resp = e.do(t, http.MethodGet, "/api/plan/u1/2024-06-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[model.Plan](t, resp).Tasks, 2)
}

func TestCommit_InvalidRequest(t *testing.T) {
	e := newTestEnv(t)

	body := commitBody()
	body["freeText"] = ""
	resp := e.do(t, http.MethodPost, "/api/plan/commit", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, resp).Error)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/plan/commit", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestCommit_BodyTooLarge(t *testing.T) {
	e := newTestEnv(t)
	body := commitBody()
	body["freeText"] = strings.Repeat("x", maxBodyBytes+1)
	resp := e.do(t, http.MethodPost, "/api/plan/commit", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCalendar(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/plan/u1/2024-06-02/calendar", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/plan/commit", commitBody()).StatusCode)

	resp = e.do(t, http.MethodGet, "/api/plan/u1/2024-06-02/calendar", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.CalendarContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="plan-2024-06-02.ics"`, resp.Header.Get("Content-Disposition"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "UID:u1-2024-06-02-1\r\n")

	resp = e.do(t, http.MethodGet, "/api/plan/u1/2024-06-03/calendar", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreferences(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/preferences/u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.DefaultPreference("UTC"), decode[model.Preference](t, resp))

	resp = e.do(t, http.MethodPut, "/api/preferences/u1", map[string]any{"reminderHour": 21, "reminderMinute": 30, "timezone": "Europe/Berlin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	want := model.Preference{ReminderHour: 21, ReminderMinute: 30, Timezone: "Europe/Berlin"}
	assert.Equal(t, want, decode[model.Preference](t, resp))

	resp = e.do(t, http.MethodPut, "/api/preferences/u1", map[string]any{"reminderMinute": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	want.ReminderMinute = 5
	assert.Equal(t, want, decode[model.Preference](t, resp))

	for _, bad := range []map[string]any{
		{"reminderHour": 24},
		{"reminderMinute": -1},
		{"timezone": "Nowhere/Land"},
	} {
		resp = e.do(t, http.MethodPut, "/api/preferences/u1", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}

	got, err := e.stores.Preferences.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSubscriptionAndSend(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/push/send", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_subscription", decode[ErrorResponse](t, resp).Error)

	resp = e.do(t, http.MethodPost, "/api/push/save-subscription", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/push/save-subscription", map[string]any{
		"userId":       "u1",
		"subscription": map[string]any{"endpoint": "https://push.example/abc"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/push/save-subscription", map[string]any{
		"userId": "u1",
		"subscription": map[string]any{
			"endpoint":       "https://push.example/abc",
			"expirationTime": nil,
			"keys":           map[string]string{"p256dh": "key", "auth": "secret"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/push/send", map[string]any{"userId": "u1", "body": strings.Repeat("a", 200)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	e.sender.mu.Lock()
	require.Len(t, e.sender.sent, 1)
	got := e.sender.sent[0]
	e.sender.mu.Unlock()
	assert.Equal(t, testNudgeTitle, got.Title)
	assert.Equal(t, "/", got.URL)
	assert.Len(t, []rune(got.Body), push.MaxBodyLength)

	e.sender.mu.Lock()
	e.sender.err = errors.New("gateway down")
	e.sender.mu.Unlock()
	resp = e.do(t, http.MethodPost, "/api/push/send", map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestVAPIDKeyAndCoach(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/push/vapid-public-key", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BPublicKey", decode[map[string]string](t, resp)["publicKey"])

	resp = e.do(t, http.MethodPost, "/api/ai/suggestions", map[string]any{"goals": []model.Goal{{Title: "Marathon"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sug := decode[map[string][]model.Suggestion](t, resp)["suggestions"]
	require.Len(t, sug, 1)
	assert.Equal(t, "Focus on Marathon", sug[0].Title)

	resp = e.do(t, http.MethodPost, "/api/ai/suggestions", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"suggestions":[]}`+"\n", readAll(t, resp))

	resp = e.do(t, http.MethodPost, "/api/ai/analyze", map[string]any{"goal": model.Goal{Title: "Marathon"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.Insight{Insight: "Marathon is on track", NextStep: "Keep going"}, decode[model.Insight](t, resp))
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/plan/commit", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/plan/commit", commitBody()).StatusCode)

	resp := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), `nudge_plan_commits_total{outcome="committed"} 1`)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}
