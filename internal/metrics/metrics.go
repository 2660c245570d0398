// Package metrics exposes Prometheus metrics for dispatch, reloads and the
// chat connection.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "openbot"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	InvocationErrors *prometheus.CounterVec

	// Registry metrics
	ReloadsTotal     *prometheus.CounterVec
	ReloadDuration   prometheus.Histogram
	PluginsLoaded    *prometheus.GaugeVec
	CommandsActive   prometheus.Gauge
	NameConflicts    prometheus.Gauge
	ConfigWriteFails prometheus.Counter

	// Telegram metrics
	MessagesReceived prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	TelegramErrors   prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatched commands by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of command invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		InvocationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_errors_total",
				Help:      "Total number of failed command invocations",
			},
			[]string{"plugin"},
		),

		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Total number of registry reloads by trigger",
			},
			[]string{"trigger"},
		),
		ReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_duration_seconds",
				Help:      "Duration of registry reloads in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PluginsLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins",
				Help:      "Number of plugins by state after the last load",
			},
			[]string{"state"},
		),
		CommandsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "commands",
				Help:      "Number of registered commands",
			},
		),
		NameConflicts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "name_conflicts",
				Help:      "Number of ambiguous simple command names",
			},
		),
		ConfigWriteFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_write_failures_total",
				Help:      "Total number of failed configuration writes",
			},
		),

		MessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_messages_received_total",
				Help:      "Total number of Telegram messages received",
			},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_messages_sent_total",
				Help:      "Total number of Telegram messages sent by severity",
			},
			[]string{"severity"},
		),
		TelegramErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_errors_total",
				Help:      "Total number of Telegram API errors",
			},
		),
	}

	registry.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.InvocationErrors,
		m.ReloadsTotal,
		m.ReloadDuration,
		m.PluginsLoaded,
		m.CommandsActive,
		m.NameConflicts,
		m.ConfigWriteFails,
		m.MessagesReceived,
		m.MessagesSent,
		m.TelegramErrors,
	)

	return m
}

// Observe implements command.Observer.
func (m *Metrics) Observe(_ context.Context, _ command.Message, res command.Result) {
	m.DispatchTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Command == nil {
		return
	}
	if res.Outcome == command.Invoked || res.Outcome == command.InternalFailure {
		m.DispatchDuration.WithLabelValues(res.Command.PluginID).Observe(res.Duration.Seconds())
	}
	if res.Outcome == command.InternalFailure {
		m.InvocationErrors.WithLabelValues(res.Command.PluginID).Inc()
	}
}

// RecordReload records one completed reload.
func (m *Metrics) RecordReload(trigger string, duration time.Duration, load *plugin.LoadResult, report command.BuildReport) {
	m.ReloadsTotal.WithLabelValues(trigger).Inc()
	m.ReloadDuration.Observe(duration.Seconds())

	m.PluginsLoaded.Reset()
	m.PluginsLoaded.WithLabelValues(string(plugin.StateEnabled)).Set(float64(len(load.Enabled()) - len(report.Rejected)))
	m.PluginsLoaded.WithLabelValues(string(plugin.StateDisabled)).Set(float64(len(load.Disabled)))
	m.PluginsLoaded.WithLabelValues(string(plugin.StateFailed)).Set(float64(len(load.Failed) + len(report.Rejected)))

	m.CommandsActive.Set(float64(report.Registered))
	m.NameConflicts.Set(float64(len(report.Conflicts)))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Server serves the metrics endpoint.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server on addr with the handler at path.
func NewServer(addr, path string, m *Metrics, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// MessageReceived counts an inbound chat message.
func (m *Metrics) MessageReceived() { m.MessagesReceived.Inc() }

// MessageSent counts an outbound chat message.
func (m *Metrics) MessageSent(severity string) { m.MessagesSent.WithLabelValues(severity).Inc() }

// TelegramError counts a failed Telegram API call.
func (m *Metrics) TelegramError() { m.TelegramErrors.Inc() }
