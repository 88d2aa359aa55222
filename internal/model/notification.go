package model

// Payload is the message shown by the client when a nudge arrives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}
