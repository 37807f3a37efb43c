package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/deadletter"
	"github.com/austindbirch/fieldsync/internal/logging"
)

func newTail() (*tail, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.New("dlq-tail-test")
	logger.SetOutput(&buf)
	return &tail{logger: logger}, &buf
}

func TestHandle(t *testing.T) {
	tl, buf := newTail()
	dl := deadletter.New(action.Action{ID: "a-9", Endpoint: "/api/invoices", Options: action.Options{Method: "POST", Body: `{"amount":120}`}}, 1, 422, "upstream responded 422", "permanent rejection: 422")
	body, err := json.Marshal(dl)
	if err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(deadLettersReceived.WithLabelValues("permanent_rejection"))
	if err := tl.handle(body); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if got := testutil.ToFloat64(deadLettersReceived.WithLabelValues("permanent_rejection")) - before; got != 1 {
		t.Errorf("received counter delta = %v, want 1", got)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if entry["action_id"] != "a-9" || entry["endpoint"] != "/api/invoices" || entry["method"] != "POST" {
		t.Errorf("log entry = %v", entry)
	}
}

func TestHandle_BadMessages(t *testing.T) {
	tl, _ := newTail()
	before := testutil.ToFloat64(badMessages)

	for _, body := range []string{`not json`, `{"type":"delivery.dlq"}`} {
		if err := tl.handle([]byte(body)); err != nil {
			t.Errorf("handle(%q) error = %v, want nil so the message is finished", body, err)
		}
	}
	if got := testutil.ToFloat64(badMessages) - before; got != 2 {
		t.Errorf("bad message delta = %v, want 2", got)
	}
}

func TestReasonLabel(t *testing.T) {
	tests := map[string]string{
		"permanent rejection: 404": "permanent_rejection",
		"max attempts exceeded":    "max_attempts",
		"":                         "unknown",
		"operator purge":           "other",
	}
	for in, want := range tests {
		if got := reasonLabel(in); got != want {
			t.Errorf("reasonLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpdateTopicDepth(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  int
		wantErr bool
		want    float64
	}{
		{
			name:    "dlq topic depth",
			payload: `{"topics":[{"topic_name":"actions_dlq","channels":[{"channel_name":"dlq-tail","depth":2,"in_flight_count":1}],"depth":7}]}`,
			want:    7,
		},
		{
			name:    "invalid json",
			payload: `{"topics":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topicDepth.Set(0)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/stats" {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			err := updateTopicDepth(strings.TrimPrefix(srv.URL, "http://"), "actions_dlq")
			if (err != nil) != tt.wantErr {
				t.Fatalf("updateTopicDepth() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(topicDepth); got != tt.want {
				t.Errorf("topic depth = %v, want %v", got, tt.want)
			}
		})
	}
}
