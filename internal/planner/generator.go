// Package planner turns free-form descriptions of a day into structured plans.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"daily-nudge/internal/llm"
	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
)

// DefaultTimeout bounds a generation call when none is configured.
const DefaultTimeout = 20 * time.Second

// Result is either a parsed plan or, when Fallback is set, the empty
// fallback plan together with the reason it was used.
type Result struct {
	Plan     model.Plan
	Fallback string
}

// IsFallback reports whether the fallback branch produced the plan.
func (r Result) IsFallback() bool {
	return r.Fallback != ""
}

// Generator asks the inference backend for a plan and never fails: every
// error path yields an empty plan for the requested date.
type Generator struct {
	llm     llm.Completer
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewGenerator(completer llm.Completer, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{llm: completer, timeout: timeout, metrics: m, log: log}
}

// Generate builds a plan for freeText within the constraints.
func (g *Generator) Generate(ctx context.Context, freeText string, c Constraints) Result {
	c = c.WithDefaults()

	w, err := c.Resolve()
	if err != nil {
		return g.fallback(c, fmt.Sprintf("constraints: %v", err))
	}
	if g.llm == nil {
		return g.fallback(c, "no inference backend")
	}

	raw, err := g.complete(ctx, llm.Request{
		System:      planSystemPrompt,
		User:        buildPlanPrompt(freeText, c),
		Temperature: 0.3,
		MaxTokens:   1200,
		JSON:        true,
	})
	if err != nil {
		return g.fallback(c, err.Error())
	}

	doc, err := llm.ExtractJSON[planDoc](raw)
	if err != nil {
		return g.fallback(c, err.Error())
	}

	tasks, dropped := buildTasks(doc, w, c.IncludeInputPrompts)
	if dropped > 0 {
		g.log.Debug().Int("dropped", dropped).Str("date", c.TargetDate).Msg("dropped invalid tasks from generated plan")
	}
	g.metrics.Generation("parsed")
	return Result{Plan: model.Plan{Date: c.TargetDate, Timezone: c.Timezone, Tasks: tasks}}
}

// complete runs the call under the generation timeout. The select keeps the
// bound even if a backend ignores its context.
func (g *Generator) complete(ctx context.Context, req llm.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := g.llm.Complete(ctx, req)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", llm.ErrTimeout
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", llm.ErrTimeout
	}
}

func (g *Generator) fallback(c Constraints, reason string) Result {
	g.metrics.Generation("fallback")
	g.log.Warn().Str("reason", reason).Str("date", c.TargetDate).Msg("plan generation fell back to empty plan")
	return Result{Plan: model.EmptyPlan(c.TargetDate, c.Timezone), Fallback: reason}
}
