package serve

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ValentinKolb/dShard/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gometrics "github.com/rcrowley/go-metrics"
)

// metricsRouter serves the chunk counters in the prometheus text format.
func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func startMetricsServer(endpoint string) *http.Server {
	srv := &http.Server{
		Addr:              endpoint,
		Handler:           metricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		server.Logger.Infof("metrics listening on %s", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}

// logRPCMetrics writes a line per rpc timer every interval until ctx is done.
func logRPCMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logRegistry(gometrics.DefaultRegistry)
		}
	}
}

func logRegistry(r gometrics.Registry) {
	r.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Timer:
			t := m.Snapshot()
			ps := t.Percentiles([]float64{0.5, 0.99})
			server.Logger.Infof("%s count=%d mean=%s p50=%s p99=%s rate1=%.2f",
				name, t.Count(), time.Duration(t.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), t.Rate1())
		case gometrics.Counter:
			server.Logger.Infof("%s count=%d", name, m.Snapshot().Count())
		}
	})
}
