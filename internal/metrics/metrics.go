package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Sweep item outcomes.
const (
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// Metrics holds Prometheus counters for the live lifecycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	transitionsTotal   *prometheus.CounterVec
	harvestJobsTotal   *prometheus.CounterVec
	manifestMissing    prometheus.Counter
	waiterExhausted    prometheus.Counter
	sweepItemsTotal    *prometheus.CounterVec
	provisionedStacks  prometheus.Counter
	provisioningErrors prometheus.Counter
}

// New creates and registers the lifecycle metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_state_transitions_total",
		Help: "Live state transitions applied, by origin and target state",
	}, []string{"from", "to"})
	harvestJobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_harvest_jobs_total",
		Help: "Harvest job submissions by result (submitted, adopted, failed, ready, error)",
	}, []string{"result"})
	manifestMissing := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_harvest_manifest_missing_total",
		Help: "Harvest runs that found no reachable packaging manifest",
	})
	waiterExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_input_detach_waiter_exhausted_total",
		Help: "Teardowns that gave up waiting for an input to detach",
	})
	sweepItemsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_sweep_items_total",
		Help: "Candidates examined by reconciliation sweeps, by sweep and outcome",
	}, []string{"sweep", "outcome"})
	provisionedStacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_stacks_provisioned_total",
		Help: "Encoding stacks created",
	})
	provisioningErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_stack_provisioning_errors_total",
		Help: "Encoding stack creations that failed part way",
	})

	registry.MustRegister(
		transitionsTotal,
		harvestJobsTotal,
		manifestMissing,
		waiterExhausted,
		sweepItemsTotal,
		provisionedStacks,
		provisioningErrors,
	)

	return &Metrics{
		registry:           registry,
		transitionsTotal:   transitionsTotal,
		harvestJobsTotal:   harvestJobsTotal,
		manifestMissing:    manifestMissing,
		waiterExhausted:    waiterExhausted,
		sweepItemsTotal:    sweepItemsTotal,
		provisionedStacks:  provisionedStacks,
		provisioningErrors: provisioningErrors,
	}
}

// IncTransition counts one applied state change.
func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// IncHarvestJob counts one harvest job event.
func (m *Metrics) IncHarvestJob(result string) {
	if m == nil {
		return
	}
	m.harvestJobsTotal.WithLabelValues(result).Inc()
}

// IncManifestMissing counts one manifest-missing harvest outcome.
func (m *Metrics) IncManifestMissing() {
	if m == nil {
		return
	}
	m.manifestMissing.Inc()
}

// IncWaiterExhausted counts one input detach waiter that ran out of attempts.
func (m *Metrics) IncWaiterExhausted() {
	if m == nil {
		return
	}
	m.waiterExhausted.Inc()
}

// IncSweepItem counts one examined sweep candidate.
func (m *Metrics) IncSweepItem(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItemsTotal.WithLabelValues(sweep, outcome).Inc()
}

// IncProvisioned counts one created stack.
func (m *Metrics) IncProvisioned() {
	if m == nil {
		return
	}
	m.provisionedStacks.Inc()
}

// IncProvisioningError counts one failed stack creation.
func (m *Metrics) IncProvisioningError() {
	if m == nil {
		return
	}
	m.provisioningErrors.Inc()
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway under the given job name.
// Batch sweeps exit before a scrape could see them.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
