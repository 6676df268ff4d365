package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsShutdownTimeout = 5 * time.Second

// metricsServer exposes the client's OpenTelemetry metrics in Prometheus
// text format for as long as the command runs.
type metricsServer struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	logger   zerolog.Logger
	errc     chan error
}

// newMetricsServer wires an OTel meter provider to a private Prometheus
// registry served at addr.
func newMetricsServer(addr string, logger zerolog.Logger) (*metricsServer, error) {
	reg := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &metricsServer{
		provider: provider,
		server: &http.Server{
			Addr:              addr,
			Handler:           metricsRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		errc:   make(chan error, 1),
	}, nil
}

func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}

// start serves in the background. Listen errors surface from shutdown.
func (m *metricsServer) start() {
	go func() {
		m.logger.Info().Str("addr", m.server.Addr).Msg("metrics server starting")
		err := m.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("metrics server error")
			m.errc <- err
		}
		close(m.errc)
	}()
}

// shutdown stops the server and flushes the meter provider.
func (m *metricsServer) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metricsShutdownTimeout)
	defer cancel()

	err := m.server.Shutdown(ctx)
	if serveErr := <-m.errc; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	return errors.Join(err, m.provider.Shutdown(ctx))
}
