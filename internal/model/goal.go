package model

// Goal is the client-side goal summary sent along with coaching requests.
type Goal struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	Progress    int    `json:"progress"`
	Description string `json:"description"`
}

// Suggestion is a coaching item (insight, suggestion or reminder).
type Suggestion struct {
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	Type           string  `json:"type"`
	Source         string  `json:"source"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Insight is a short analysis of one goal.
type Insight struct {
	Insight  string `json:"insight"`
	NextStep string `json:"nextStep"`
}
