package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"daily-nudge/internal/llm"
	"daily-nudge/internal/model"
)

const maxSuggestions = 4

// Fallback analysis when the backend is unavailable.
var defaultInsight = model.Insight{
	Insight:  "Keep going!",
	NextStep: "Break the next task into a 10-minute step.",
}

// Coach produces motivational suggestions and goal analyses.
type Coach struct {
	gen *Generator
	log zerolog.Logger
}

// NewCoach shares the generator's backend and timeout.
func NewCoach(gen *Generator, log zerolog.Logger) *Coach {
	return &Coach{gen: gen, log: log}
}

// Suggest returns up to four items for goals; it returns an empty list on
// any backend or parse failure.
func (c *Coach) Suggest(ctx context.Context, goals []model.Goal) []model.Suggestion {
	if len(goals) == 0 || c.gen.llm == nil {
		return []model.Suggestion{}
	}

	lines := make([]string, 0, len(goals))
	for _, g := range goals {
		lines = append(lines, fmt.Sprintf("Goal: %s (%s, %s priority, %d%% complete) - %s",
			g.Title, g.Category, g.Priority, g.Progress, g.Description))
	}
	raw, err := c.gen.complete(ctx, llm.Request{
		System:      suggestSystemPrompt,
		User:        "Based on these goals, provide 3-4 items (insights/book refs/research) to keep the user focused and motivated.\n\n" + strings.Join(lines, "\n"),
		Temperature: 0.7,
		MaxTokens:   800,
		JSON:        true,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("suggestions fell back to empty list")
		return []model.Suggestion{}
	}

	doc, err := llm.ExtractJSON[struct {
		Suggestions []model.Suggestion `json:"suggestions"`
	}](raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("suggestions fell back to empty list")
		return []model.Suggestion{}
	}

	out := make([]model.Suggestion, 0, maxSuggestions)
	for _, s := range doc.Suggestions {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		switch s.Type {
		case "insight", "suggestion", "reminder":
		default:
			s.Type = "insight"
		}
		if s.RelevanceScore <= 0 || s.RelevanceScore > 1 {
			s.RelevanceScore = 0.8
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// Analyze returns one insight and one next step for goal.
func (c *Coach) Analyze(ctx context.Context, goal model.Goal) model.Insight {
	if c.gen.llm == nil {
		return defaultInsight
	}
	raw, err := c.gen.complete(ctx, llm.Request{
		System: analyzeSystemPrompt,
		User: fmt.Sprintf("Analyze this goal and progress and respond with one brief insight and one concrete next step.\nTitle: %s\nCategory: %s\nPriority: %s\nProgress: %d%%\nDescription: %s",
			goal.Title, goal.Category, goal.Priority, goal.Progress, goal.Description),
		Temperature: 0.6,
		MaxTokens:   200,
		JSON:        true,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("analysis fell back to default insight")
		return defaultInsight
	}
	ins, err := llm.ExtractJSON[model.Insight](raw)
	if err != nil || strings.TrimSpace(ins.Insight) == "" || strings.TrimSpace(ins.NextStep) == "" {
		return defaultInsight
	}
	return ins
}

