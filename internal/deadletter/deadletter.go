// Package deadletter describes actions the replayer gave up on and where
// they are sent.
package deadletter

import (
	"time"

	"github.com/austindbirch/fieldsync/internal/action"
)

const Type = "action.dlq"

type DeadLetter struct {
	Type       string        `json:"type"`    // "action.dlq"
	Version    string        `json:"version"` // schema version
	At         string        `json:"at"`      // RFC3339 time the dead letter was emitted
	Reason     string        `json:"reason"`  // human/debug text
	Attempt    int           `json:"attempt"` // failed replay attempts when dead-lettered
	HTTPStatus int           `json:"http_status,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Action     action.Action `json:"action"` // full action snapshot

	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func New(a action.Action, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       Type,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Action:     a,
	}
}
