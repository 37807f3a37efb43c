package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockStore struct {
	pingError error
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingError
}

type mockConn bool

func (m mockConn) Online() bool { return bool(m) }

func depthOf(n int, err error) Depth {
	return func(context.Context) (int, error) { return n, err }
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		store              Pinger
		conn               Connectivity
		depth              Depth
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy with nothing wired",
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true},
		},
		{
			name:               "healthy online with empty queue",
			store:              &mockStore{},
			conn:               mockConn(true),
			depth:              depthOf(0, nil),
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true, Online: true},
		},
		{
			name:               "offline with backlog is still healthy",
			store:              &mockStore{},
			conn:               mockConn(false),
			depth:              depthOf(12, nil),
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true, QueueDepth: 12},
		},
		{
			name:               "store ping failure",
			store:              &mockStore{pingError: context.DeadlineExceeded},
			conn:               mockConn(true),
			depth:              depthOf(3, nil),
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "store ping failed", Online: true},
		},
		{
			name:               "corrupt queue",
			store:              &mockStore{},
			conn:               mockConn(true),
			depth:              depthOf(0, errors.New("queue: persisted value is not a valid action list")),
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "queue unreadable", Store: true, Online: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.store, tt.conn, tt.depth)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}
			if status != tt.expectedStatus {
				t.Errorf("HTTPHandler() status = %+v, want %+v", status, tt.expectedStatus)
			}
		})
	}
}

func TestSetUpstream(t *testing.T) {
	hs := health.NewServer()

	for _, online := range []bool{true, false, true} {
		SetUpstream(hs, online)

		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: UpstreamService})
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		want := healthpb.HealthCheckResponse_NOT_SERVING
		if online {
			want = healthpb.HealthCheckResponse_SERVING
		}
		if resp.GetStatus() != want {
			t.Errorf("online=%v: status = %v, want %v", online, resp.GetStatus(), want)
		}
	}
}
