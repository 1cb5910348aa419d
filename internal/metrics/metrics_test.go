package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"horse.fit/curation/internal/dedup"
)

func TestMetricsCountObservations(t *testing.T) {
	t.Parallel()

	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.ObserveStep("filter", OutcomeOK, 3)
	m.ObserveStep("filter", OutcomeOK, 2)
	m.ObserveStep("filter", OutcomeFailed, 0)
	m.ObserveDecision(dedup.DecisionTakeover)
	m.ObserveScoreCall(OutcomeOK, 120*time.Millisecond)
	m.ObserveExport("simple", map[string]int{"高校": 2, "中小学": 0}, 4)

	if got := testutil.ToFloat64(m.stepItems.WithLabelValues("filter", OutcomeOK)); got != 5 {
		t.Fatalf("expected 5 filter items, got %v", got)
	}
	if got := testutil.ToFloat64(m.dedupDecisions.WithLabelValues("takeover")); got != 1 {
		t.Fatalf("expected 1 takeover, got %v", got)
	}
	if got := testutil.ToFloat64(m.exported.WithLabelValues("simple", "高校")); got != 2 {
		t.Fatalf("expected 2 exported, got %v", got)
	}
	if got := testutil.ToFloat64(m.exportSkipped.WithLabelValues("simple")); got != 4 {
		t.Fatalf("expected 4 skipped, got %v", got)
	}
	if n := testutil.CollectAndCount(m.exported); n != 1 {
		t.Fatalf("expected zero-count categories to be omitted, got %d series", n)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected gathered metric families")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveStep("filter", OutcomeOK, 1)
	m.ObserveDecision(dedup.DecisionJoined)
	m.ObserveScoreCall(OutcomeFailed, time.Second)
	m.ObserveExport("review", map[string]int{"x": 1}, 1)
	m.ObserveHTTPRequest("GET", "/", "200")
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}
