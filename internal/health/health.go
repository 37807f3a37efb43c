package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// UpstreamService is the gRPC health service name that tracks connectivity to
// the REST API. The empty name covers the agent itself.
const UpstreamService = "fieldsync.upstream"

type Status struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	Store      bool   `json:"store"`
	Online     bool   `json:"online"`
	QueueDepth int    `json:"queue_depth"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Connectivity interface {
	Online() bool
}

// Depth reports the current queue length.
type Depth func(ctx context.Context) (int, error)

// Check reports agent health. Being offline is not a failure; the queue exists
// for that case. Only an unreachable store or unreadable queue is.
func Check(ctx context.Context, store Pinger, conn Connectivity, depth Depth) Status {
	st := Status{OK: true, Message: "ok", Store: true}
	if conn != nil {
		st.Online = conn.Online()
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	if store != nil {
		if err := store.Ping(ctx); err != nil {
			st.OK = false
			st.Store = false
			st.Message = "store ping failed"
			return st
		}
	}
	if depth != nil {
		n, err := depth(ctx)
		if err != nil {
			st.OK = false
			st.Message = "queue unreadable"
			return st
		}
		st.QueueDepth = n
	}
	return st
}

// HTTPHandler returns an HTTP handler that reports the health status of the agent
func HTTPHandler(store Pinger, conn Connectivity, depth Depth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Check(r.Context(), store, conn, depth)
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// SetUpstream mirrors connectivity onto the gRPC health server.
func SetUpstream(hs *health.Server, online bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(UpstreamService, status)
}
