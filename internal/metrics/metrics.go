// Package metrics exposes reconciliation metrics to Prometheus.
//
// Every method on *Collector is safe to call on a nil receiver so components
// can run without metrics in tests.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"linkgraph/internal/domain"
)

// Collector holds the linkgraph metrics
type Collector struct {
	gatherer prometheus.Gatherer

	ReconcileRuns       *prometheus.CounterVec
	ReconcileDuration   *prometheus.HistogramVec
	LinkTransitions     *prometheus.CounterVec
	DeferredTransitions prometheus.Counter
	EntityErrors        *prometheus.CounterVec
	SweepDeleted        *prometheus.CounterVec
	MeshGroups          *prometheus.CounterVec
}

// NewCollector registers linkgraph metrics against the provided registerer
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	c.ReconcileRuns, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_reconcile_runs_total",
		Help: "Reconciliation runs by topology strategy and outcome.",
	}, []string{"strategy", "result"}))
	if err != nil {
		return nil, err
	}

	c.ReconcileDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkgraph_reconcile_duration_seconds",
		Help:    "Duration of reconciliation runs including parsing.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"strategy"}))
	if err != nil {
		return nil, err
	}

	c.LinkTransitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_link_status_transitions_total",
		Help: "Link status flips by new status.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}

	deferred := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkgraph_deferred_transitions_total",
		Help: "Down transitions postponed by the receive expiration grace period.",
	})
	if err := reg.Register(deferred); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("collector linkgraph_deferred_transitions_total already registered with incompatible type")
		}
		deferred = existing
	}
	c.DeferredTransitions = deferred

	c.EntityErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_entity_errors_total",
		Help: "Per-entity reconciliation failures by entity kind.",
	}, []string{"entity"}))
	if err != nil {
		return nil, err
	}

	c.SweepDeleted, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_sweep_deleted_total",
		Help: "Entities deleted by the expiry sweeper by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	c.MeshGroups, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_mesh_groups_total",
		Help: "Mesh groups aggregated by organization.",
	}, []string{"organization"}))
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveReconcile records one reconciliation run
func (c *Collector) ObserveReconcile(strategy domain.Strategy, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case domain.IsParse(err):
		result = "parse_error"
	case domain.IsAuthorization(err):
		result = "unauthorized"
	default:
		result = "error"
	}
	c.ReconcileRuns.WithLabelValues(string(strategy), result).Inc()
	c.ReconcileDuration.WithLabelValues(string(strategy)).Observe(d.Seconds())
}

// LinkStatusChanged counts a status flip. It satisfies the event sink
// contract so the collector can be composed with other listeners.
func (c *Collector) LinkStatusChanged(_ context.Context, link *domain.Link) {
	if c == nil || link == nil {
		return
	}
	c.LinkTransitions.WithLabelValues(string(link.Status)).Inc()
}

// AddDeferred counts postponed down transitions
func (c *Collector) AddDeferred(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DeferredTransitions.Add(float64(n))
}

// IncEntityError counts a per-entity failure
func (c *Collector) IncEntityError(entity string) {
	if c == nil {
		return
	}
	c.EntityErrors.WithLabelValues(entity).Inc()
}

// AddSweepDeleted counts entities removed by a sweep
func (c *Collector) AddSweepDeleted(kind string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.SweepDeleted.WithLabelValues(kind).Add(float64(n))
}

// AddMeshGroups counts aggregated mesh groups of an organization
func (c *Collector) AddMeshGroups(organization string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.MeshGroups.WithLabelValues(organization).Add(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("counter vector already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("histogram vector already registered with incompatible type")
		}
		return nil, err
	}
	return vec, nil
}
