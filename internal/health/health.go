package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/taskhook/internal/logging"
)

const pingTimeout = time.Second

// Pinger is anything that can report whether its backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Store   bool   `json:"store"`
	Driver  string `json:"driver,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health of the store
func HTTPHandler(p Pinger, driver string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Store: true, Driver: driver}
		code := http.StatusOK

		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "store ping failed"
				st.Store = false
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Watch pings p every interval and mirrors the result into the gRPC health
// server under the empty service name and service. It returns when ctx is done.
func Watch(ctx context.Context, p Pinger, hs *grpchealth.Server, service string, interval time.Duration) {
	set := func(status healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", status)
		if service != "" {
			hs.SetServingStatus(service, status)
		}
	}

	check := func() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := p.Ping(pctx); err != nil {
			if ctx.Err() == nil {
				logging.WithContext(ctx).WithError(err).Warn("health check failed")
			}
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
		set(healthpb.HealthCheckResponse_SERVING)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			check()
		}
	}
}
