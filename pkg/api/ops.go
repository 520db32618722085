package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grovehq/grove/pkg/metrics"
)

// OpsServer serves the operational endpoints on the metrics address:
// /metrics, /healthz, /readyz and /livez. Kept off the API listener so
// scrapers and probes never compete with request traffic.
type OpsServer struct {
	http *http.Server
}

// NewOpsServer builds the operational endpoint server.
func NewOpsServer(addr string) *OpsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	return &OpsServer{
		http: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until Shutdown.
func (o *OpsServer) Start() error {
	err := o.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (o *OpsServer) Shutdown(ctx context.Context) error {
	return o.http.Shutdown(ctx)
}
