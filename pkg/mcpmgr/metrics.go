package mcpmgr

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// fleetMetrics is nil when ManagerOptions.Metrics is unset. Every method is
// safe on a nil receiver.
type fleetMetrics struct {
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	circuitRejection *prometheus.CounterVec
}

func newFleetMetrics(reg prometheus.Registerer) (*fleetMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpfleet_operations_total",
			Help: "Fleet operations by server and outcome",
		},
		[]string{"server", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpfleet_operation_duration_seconds",
			Help:    "Time spent connecting to a server and running one operation, excluding backoff",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpfleet_circuit_rejections_total",
			Help: "Operations rejected because the server's circuit was open",
		},
		[]string{"server"},
	)

	var err error
	m := &fleetMetrics{}
	if m.operations, err = register(reg, operations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if m.circuitRejection, err = register(reg, rejections); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier Manager.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (m *fleetMetrics) observe(server string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.operations.WithLabelValues(server, outcome).Inc()
	m.duration.WithLabelValues(server).Observe(time.Since(start).Seconds())
}

func (m *fleetMetrics) rejected(server string) {
	if m == nil {
		return
	}
	m.circuitRejection.WithLabelValues(server).Inc()
}

func (m *fleetMetrics) forget(server string) {
	if m == nil {
		return
	}
	m.operations.DeletePartialMatch(prometheus.Labels{"server": server})
	m.duration.DeleteLabelValues(server)
	m.circuitRejection.DeleteLabelValues(server)
}
