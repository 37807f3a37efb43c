package action

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options describes the request to issue for an action.
type Options struct {
	Method  string            `json:"method,omitempty"` // defaults to GET
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Action is a network request captured while the device was offline.
type Action struct {
	ID         string    `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Options    Options   `json:"options"`
	EnqueuedAt time.Time `json:"timestamp"`
}

// New builds an action for endpoint with a fresh id and enqueue time.
func New(endpoint string, opts Options) Action {
	return Action{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Options:    opts,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Method returns the normalized HTTP method.
func (a Action) Method() string {
	if a.Options.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(a.Options.Method)
}
