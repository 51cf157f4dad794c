package admin

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
)

// RuntimeStats is the part of *rabbitmq.Runtime the admin server reads.
type RuntimeStats interface {
	State() rabbitmq.Lifecycle
	InFlight() int64
	RunnerStates() map[string]rabbitmq.RunnerState
}

// runtimeCollector exports the runtime lifecycle, in-flight count and one
// state series per runner, read at scrape time.
type runtimeCollector struct {
	stats    RuntimeStats
	state    *prometheus.Desc
	inFlight *prometheus.Desc
	runner   *prometheus.Desc
}

// NewRuntimeCollector returns a prometheus.Collector over stats. Lifecycle
// and runner states are exported as their numeric enum values.
func NewRuntimeCollector(stats RuntimeStats) prometheus.Collector {
	return &runtimeCollector{
		stats: stats,
		state: prometheus.NewDesc("taskworker_runtime_state",
			"Runtime lifecycle: 0 stopped, 1 starting, 2 running, 3 stopping.", nil, nil),
		inFlight: prometheus.NewDesc("taskworker_runtime_in_flight_messages",
			"Messages currently being processed.", nil, nil),
		runner: prometheus.NewDesc("taskworker_runner_state",
			"Runner state: 0 initializing, 1 installing topology, 2 consuming, 3 draining, 4 stopped.", []string{"queue"}, nil),
	}
}

func (c *runtimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.inFlight
	ch <- c.runner
}

func (c *runtimeCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(c.stats.State()))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.stats.InFlight()))
	for queue, state := range c.stats.RunnerStates() {
		ch <- prometheus.MustNewConstMetric(c.runner, prometheus.GaugeValue, float64(state), queue)
	}
}
