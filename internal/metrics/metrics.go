package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector of this package. A dedicated registry keeps
// the textfile dump free of Go runtime collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Action metrics.
	ActionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoofdpi_actions_total",
			Help: "Total number of actions performed, by outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoofdpi_action_duration_seconds",
			Help:    "Duration of actions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// External command metrics.
	CommandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoofdpi_external_commands_total",
			Help: "Total number of external commands run",
		},
		[]string{"command", "status"},
	)

	CommandDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoofdpi_external_command_duration_seconds",
			Help:    "Duration of external commands in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 600},
		},
		[]string{"command"},
	)

	// Interface and service metrics.
	Interfaces = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spoofdpi_interfaces",
			Help: "Number of candidate interfaces in the last selection, by validity",
		},
		[]string{"validity"},
	)

	ServiceResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoofdpi_network_service_results_total",
			Help: "Per network service results of proxy changes",
		},
		[]string{"action", "status"},
	)

	// State gauges (1 = yes, 0 = no, -1 = unknown).
	DaemonRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "spoofdpi_daemon_running",
			Help: "Whether the supervised daemon was running at last status check",
		},
	)

	RedirectActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "spoofdpi_redirect_rules_active",
			Help: "Whether redirect rules were loaded at last status check",
		},
	)
)

// RecordAction records the outcome and duration of an action.
func RecordAction(action string, outcome string, duration time.Duration) {
	ActionsTotal.WithLabelValues(action, outcome).Inc()
	ActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordCommand records one external command invocation.
func RecordCommand(command string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// UpdateInterfaces sets the interface gauges after a selection.
func UpdateInterfaces(valid, invalid int) {
	Interfaces.WithLabelValues("valid").Set(float64(valid))
	Interfaces.WithLabelValues("invalid").Set(float64(invalid))
}

// RecordServiceResult counts a per service proxy result.
func RecordServiceResult(action string, status string) {
	ServiceResults.WithLabelValues(action, status).Inc()
}

// SetState updates a tristate gauge. known false means unknown.
func SetState(g prometheus.Gauge, value bool, known bool) {
	switch {
	case !known:
		g.Set(-1)
	case value:
		g.Set(1)
	default:
		g.Set(0)
	}
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
