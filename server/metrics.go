package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/intune-bridge/commands"
	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "intune_bridge"

// Metrics owns a private registry so parallel servers (and tests) never collide
type Metrics struct {
	registry *prometheus.Registry

	authFlows       *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	commandRuns     *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		authFlows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_flow_total",
			Help:      "Authorization round trips by stage and outcome.",
		}, []string{"stage", "outcome"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_refresh_total",
			Help:      "Silent access token refreshes by outcome.",
		}, []string{"outcome"}),
		commandRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "command_executions_total",
			Help:      "Script executions by command and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Wall clock duration of script executions.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		}, []string{"command"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"path"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAuth(stage string, err error) {
	m.authFlows.WithLabelValues(stage, outcome(err)).Inc()
}

// ObserveRefresh matches sessions.ManagerConfig.OnRefresh
func (m *Metrics) ObserveRefresh(err error) {
	m.refreshes.WithLabelValues(outcome(err)).Inc()
}

const unknownCommandLabel = "unknown"

// ObserveCommand records one execution. Callers pass a registered id or unknownCommandLabel.
func (m *Metrics) ObserveCommand(commandID string, res commands.Result, elapsed time.Duration) {
	if apperrors.Is(res.Err, apperrors.ErrUnknownCommand) {
		commandID = unknownCommandLabel
	}
	m.commandRuns.WithLabelValues(commandID, outcome(res.Err)).Inc()
	m.commandDuration.WithLabelValues(commandID).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperrors.Is(err, apperrors.ErrStateMismatch):
		return "state_mismatch"
	case apperrors.Is(err, apperrors.ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case apperrors.Is(err, apperrors.ErrNoActiveSession):
		return "no_session"
	case apperrors.Is(err, apperrors.ErrSessionExpired):
		return "session_expired"
	case apperrors.Is(err, apperrors.ErrUnknownCommand):
		return "unknown_command"
	case apperrors.Is(err, apperrors.ErrInvalidParameters):
		return "invalid_parameters"
	case apperrors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case apperrors.Is(err, apperrors.ErrMalformedOutput):
		return "malformed_output"
	case apperrors.Is(err, apperrors.ErrProcessStartFailed):
		return "start_failed"
	case apperrors.Is(err, apperrors.ErrProcessFailure):
		return "process_failure"
	case apperrors.Is(err, apperrors.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
