// Package metrics exposes supervisor activity as Prometheus metrics and serves them, together
// with a read-only view of the process table, over HTTP.
package metrics

import (
	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/processmanagement"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "procsup"

// RunningCounter reports the number of live child processes
type RunningCounter interface {
	RunningCount() int
}

// Collector counts commands and process transitions. It is registered as the observer of both
// the process manager and the command dispatcher.
type Collector struct {
	registry *prometheus.Registry

	commandsTotal  *prometheus.CounterVec
	startsTotal    *prometheus.CounterVec
	stopsTotal     *prometheus.CounterVec
	runningGauge   prometheus.GaugeFunc
	configuredSize prometheus.Gauge
}

// NewCollector creates the collector on a private registry. running may be nil, in which case
// the running gauge always reads zero.
func NewCollector(running RunningCounter, configured int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Control commands handled, by verb and result",
			},
			[]string{"verb", "result"},
		),
		startsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_starts_total",
				Help:      "Successful process launches",
			},
			[]string{"process"},
		),
		stopsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_stops_total",
				Help:      "Completed process stops, by termination mode",
			},
			[]string{"process", "mode"},
		),
		runningGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes_running",
				Help:      "Child processes currently alive",
			},
			func() float64 {
				if running == nil {
					return 0
				}
				return float64(running.RunningCount())
			},
		),
		configuredSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes_configured",
				Help:      "Processes present in the registry",
			},
		),
	}
	c.configuredSize.Set(float64(configured))

	c.registry.MustRegister(
		c.commandsTotal,
		c.startsTotal,
		c.stopsTotal,
		c.runningGauge,
		c.configuredSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector's metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ProcessStarted(name string) {
	c.startsTotal.WithLabelValues(name).Inc()
}

func (c *Collector) ProcessStopped(name string, outcome processmanagement.StopOutcome) {
	c.stopsTotal.WithLabelValues(name, outcome.Mode()).Inc()
}

func (c *Collector) CommandHandled(verb string, result control.Result) {
	outcome := "success"
	if !result.Success {
		outcome = "error"
	}
	c.commandsTotal.WithLabelValues(verb, outcome).Inc()
}

var (
	_ processmanagement.Observer = (*Collector)(nil)
	_ control.CommandObserver    = (*Collector)(nil)
)
