// Package metrics exposes Prometheus counters for the recovery service and a
// standalone metrics HTTP server.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestsTotal counts successful secret ingests (store and rotate).
	IngestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_secret_ingests_total",
		Help: "Number of successful secret store/rotate ingests.",
	})

	// ProposalsTotal counts created recovery requests.
	ProposalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_proposals_total",
		Help: "Number of recovery requests proposed.",
	})

	// ApprovalsTotal counts recorded guardian approvals.
	ApprovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_approvals_total",
		Help: "Number of guardian approvals recorded.",
	})

	// ExecutionsTotal counts threshold crossings.
	ExecutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_executions_total",
		Help: "Number of recovery requests that reached the approval threshold.",
	})

	// GrantsTotal counts access grants issued, whether by threshold execution
	// or by owner override.
	GrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_access_grants_total",
		Help: "Number of standing access grants issued.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// separate from the API server.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and listen address.
func New(name, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
