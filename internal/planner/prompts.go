package planner

import (
	"fmt"
	"strings"
)

const planSystemPrompt = `You are a precise day planner. Convert the user's description of their day into a schedule.
Return ONLY valid JSON, no prose, using exactly this shape:
{"tasks":[{"title":"string","start":"HH:MM","end":"HH:MM","category":"string","location":"string","needsInput":false,"inputPrompts":["string"]}]}
Rules:
- Times are 24-hour local wall-clock times on the given date in the given timezone.
- Every task must start and end inside the planning window.
- Keep every time the user states explicitly exactly as stated.
- Each task is one atomic unit of 30 to 120 minutes. Gaps between tasks are fine.
- Order tasks by start time.`

func buildPlanPrompt(freeText string, c Constraints) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", c.TargetDate)
	fmt.Fprintf(&b, "Timezone: %s\n", c.Timezone)
	fmt.Fprintf(&b, "Planning window: %s to %s\n", c.WindowStart, c.WindowEnd)
	if c.IncludeInputPrompts {
		b.WriteString("For tasks that need preparation or a decision, set needsInput to true and add one or two short questions to inputPrompts.\n")
	} else {
		b.WriteString("Set needsInput to false and inputPrompts to an empty list for every task.\n")
	}
	b.WriteString("\nDescription of the day:\n")
	b.WriteString(strings.TrimSpace(freeText))
	return b.String()
}

const suggestSystemPrompt = `You are an AI coach. Return ONLY valid JSON of the form {"suggestions":[{"title":"string","content":"string","type":"insight|suggestion|reminder","source":"string","relevanceScore":0.0}]}. Use concise, research-backed advice with short sources.`

const analyzeSystemPrompt = `You are a concise goal coach. Return ONLY valid JSON of the form {"insight":"string","nextStep":"string"}.`
