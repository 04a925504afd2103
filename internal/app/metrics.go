package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rescp17/dcdesk/internal/hub"
	"github.com/rescp17/dcdesk/internal/stats"
	"github.com/rescp17/dcdesk/pkg/dispatch"
)

type appMetrics struct {
	dispatch *dispatch.Metrics
	hubs     *hub.Metrics
	traffic  *stats.Metrics
}

func newAppMetrics() *appMetrics {
	return &appMetrics{
		dispatch: dispatch.NewMetrics(MetricsNamespace),
		hubs:     hub.NewMetrics(MetricsNamespace),
		traffic:  stats.NewMetrics(MetricsNamespace),
	}
}

func (m *appMetrics) registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(m.dispatch.Collectors()...)
	reg.MustRegister(m.hubs.Collectors()...)
	reg.MustRegister(m.traffic.Collectors()...)
	return reg
}

// serveMetrics exposes /metrics on addr until ctx is done. A failure to
// bind is reported to the user and does not stop the client.
func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.adapter.Warn("Metrics endpoint failed", err)
	}
	return nil
}
