package llm

import "errors"

var (
	// ErrDisabled means no inference backend is configured.
	ErrDisabled = errors.New("llm: no backend configured")
	// ErrTimeout means the call exceeded its deadline.
	ErrTimeout = errors.New("llm: request timed out")
	// ErrEmptyResponse means the backend answered without any text.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrInvalidOutput means the response could not be parsed.
	ErrInvalidOutput = errors.New("llm: invalid output")
)
