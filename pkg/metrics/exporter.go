package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves a registry on /metrics.
type Exporter struct {
	server   *http.Server
	listener net.Listener
}

// NewExporter creates an exporter for gatherer on addr.
func NewExporter(addr string, gatherer prometheus.Gatherer) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Exporter{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listen address and serves in the background.
func (e *Exporter) Start() error {
	ln, err := net.Listen("tcp", e.server.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", e.server.Addr)
	}
	e.listener = ln
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return nil
}

// Addr returns the bound address (after Start).
func (e *Exporter) Addr() string {
	if e.listener == nil {
		return e.server.Addr
	}
	return e.listener.Addr().String()
}

// Stop shuts the server down.
func (e *Exporter) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
