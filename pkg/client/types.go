package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// InputRequest is the body of POST /input.
type InputRequest struct {
	Text string `json:"text"`
}

// ResizeRequest is the body of POST /resize.
type ResizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Accepted is returned by POST /update and POST /install.
type Accepted struct {
	Started string `json:"started"`
}

// Event is one server-sent event from GET /events. Data holds the message
// payload for the event kind (status, output, started, finished, notice,
// activity).
type Event struct {
	Kind string          `json:"kind"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Finished is the payload of a "finished" event.
type Finished struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
}

// Output is the payload of an "output" event; Raw keeps the child's escapes.
type Output struct {
	Raw string `json:"raw"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-success HTTP answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}
