package action

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestMethod(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", http.MethodGet},
		{"post", http.MethodPost},
		{"Patch", http.MethodPatch},
		{"DELETE", http.MethodDelete},
	}
	for _, tt := range tests {
		if got := (Action{Options: Options{Method: tt.in}}).Method(); got != tt.want {
			t.Errorf("Method(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	before := time.Now()
	a := New("/api/leads", Options{Method: "POST"})
	b := New("/api/leads", Options{Method: "POST"})

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("New() ids = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
	if a.EnqueuedAt.Before(before.Add(-time.Second)) || a.EnqueuedAt.Location() != time.UTC {
		t.Errorf("New() EnqueuedAt = %v", a.EnqueuedAt)
	}
}

func TestWireFormat(t *testing.T) {
	raw := `{"id":"x1","endpoint":"/api/leads/4/status","options":{"method":"PUT","body":"{\"status\":\"sold\"}","headers":{"X-Rep":"7"}},"timestamp":"2026-10-01T08:30:00Z"}`

	var a Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if a.ID != "x1" || a.Endpoint != "/api/leads/4/status" || a.Method() != http.MethodPut ||
		a.Options.Body != `{"status":"sold"}` || a.Options.Headers["X-Rep"] != "7" ||
		!a.EnqueuedAt.Equal(time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("Unmarshal() = %+v", a)
	}
}
