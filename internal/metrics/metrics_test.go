package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"linkgraph/internal/domain"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveReconcile(domain.StrategyFetch, nil, 10*time.Millisecond)
	c.ObserveReconcile(domain.StrategyFetch, domain.NewParseError("netjson", errors.New("bad")), time.Millisecond)
	c.ObserveReconcile(domain.StrategyReceive, errors.New("db down"), time.Millisecond)

	if got := testutil.ToFloat64(c.ReconcileRuns.WithLabelValues("fetch", "ok")); got != 1 {
		t.Fatalf("fetch ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ReconcileRuns.WithLabelValues("fetch", "parse_error")); got != 1 {
		t.Fatalf("fetch parse_error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ReconcileRuns.WithLabelValues("receive", "error")); got != 1 {
		t.Fatalf("receive error = %v, want 1", got)
	}

	c.LinkStatusChanged(context.Background(), &domain.Link{Status: domain.LinkStatusDown})
	if got := testutil.ToFloat64(c.LinkTransitions.WithLabelValues("down")); got != 1 {
		t.Fatalf("down transitions = %v, want 1", got)
	}

	c.AddDeferred(3)
	c.AddDeferred(0)
	if got := testutil.ToFloat64(c.DeferredTransitions); got != 3 {
		t.Fatalf("deferred = %v, want 3", got)
	}

	c.AddSweepDeleted("link", 2)
	if got := testutil.ToFloat64(c.SweepDeleted.WithLabelValues("link")); got != 2 {
		t.Fatalf("sweep deleted = %v, want 2", got)
	}
}

func TestCollectorReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.IncEntityError("link")
	if got := testutil.ToFloat64(second.EntityErrors.WithLabelValues("link")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveReconcile(domain.StrategyFetch, nil, time.Second)
	c.LinkStatusChanged(context.Background(), &domain.Link{})
	c.AddDeferred(1)
	c.IncEntityError("node")
	c.AddSweepDeleted("node", 1)
	c.AddMeshGroups("org", 1)
	if c.Gatherer() != nil {
		t.Fatal("nil collector should have no gatherer")
	}
}
