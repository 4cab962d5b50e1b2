package telemetry

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/models"
)

func newTestLedger() *Ledger {
	return NewLedger(config.TelemetryConfig{Enabled: true}, nil, nil, prometheus.NewRegistry())
}

func result(agentType models.AgentType, success, fallback bool, tokens int64, cost float64, ms int64) models.AnalysisResult {
	res := models.AnalysisResult{
		AgentType:        agentType,
		Success:          success,
		UsedFallback:     fallback,
		ProcessingTimeMs: ms,
	}
	if tokens > 0 {
		res.TokenUsage = &tokens
	}
	if cost > 0 {
		res.CostEstimate = &cost
	}
	return res
}

func TestLedgerSuccessRate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Record(ctx, result(models.AgentSummary, true, false, 100, 0.01, 5)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.Record(ctx, result(models.AgentSummary, false, true, 0, 0, 2)); err != nil {
		t.Fatalf("record: %v", err)
	}

	p, ok := l.Snapshot(models.AgentSummary)
	if !ok {
		t.Fatalf("missing aggregate for summary agent")
	}
	if p.TotalAnalyses != 4 || p.SuccessCount != 3 {
		t.Fatalf("analyses=%d success=%d, want 4/3", p.TotalAnalyses, p.SuccessCount)
	}
	if got := p.SuccessRate(); got != 0.75 {
		t.Fatalf("success rate = %v, want 0.75", got)
	}
	if p.FallbackCount != 1 {
		t.Fatalf("fallback count = %d, want 1", p.FallbackCount)
	}
}

func TestLedgerCostAndTokensAccumulate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_ = l.Record(ctx, result(models.AgentContentQuality, true, false, 150, 0.002, 10))
	_ = l.Record(ctx, result(models.AgentContentQuality, true, false, 250, 0.003, 20))
	// heuristic result with no attribution counts as zero, not unknown
	_ = l.Record(ctx, result(models.AgentContentQuality, true, true, 0, 0, 1))

	p, _ := l.Snapshot(models.AgentContentQuality)
	if p.TotalTokenUsage != 400 {
		t.Fatalf("tokens = %d, want 400", p.TotalTokenUsage)
	}
	if p.TotalCost < 0.00499 || p.TotalCost > 0.00501 {
		t.Fatalf("cost = %v, want 0.005", p.TotalCost)
	}
	if p.TotalProcessingTimeMs != 31 {
		t.Fatalf("processing time = %d, want 31", p.TotalProcessingTimeMs)
	}
}

func TestLedgerDisabledIsNoop(t *testing.T) {
	l := NewLedger(config.TelemetryConfig{Enabled: false}, nil, nil, prometheus.NewRegistry())
	if err := l.Record(context.Background(), result(models.AgentSummary, true, false, 10, 0.1, 1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, ok := l.Snapshot(models.AgentSummary); ok {
		t.Fatalf("disabled ledger must not aggregate")
	}
}

func TestLedgerSnapshotsSorted(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	_ = l.Record(ctx, result(models.AgentTrendSynthesis, true, false, 0, 0, 1))
	_ = l.Record(ctx, result(models.AgentAlertPrioritization, true, false, 0, 0, 1))
	_ = l.Record(ctx, result(models.AgentContentQuality, true, false, 0, 0, 1))

	snaps := l.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i-1].AgentType > snaps[i].AgentType {
			t.Fatalf("snapshots not sorted: %v before %v", snaps[i-1].AgentType, snaps[i].AgentType)
		}
	}
}

type failingStore struct{}

func (failingStore) UpdatePerformance(ctx context.Context, res models.AnalysisResult) error {
	return context.DeadlineExceeded
}

type countingWriter struct {
	mu     sync.Mutex
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	return len(p), nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func TestLedgerReportEveryStops(t *testing.T) {
	out := &countingWriter{}
	logger := log.New(out, "[LEDGER] ", 0)
	l := NewLedger(config.TelemetryConfig{Enabled: true}, nil, logger, prometheus.NewRegistry())
	if err := l.Record(context.Background(), result(models.AgentSummary, true, false, 10, 0.01, 1)); err != nil {
		t.Fatalf("record: %v", err)
	}

	stop := l.ReportEvery(5 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for out.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("periodic reporter never logged")
		}
		time.Sleep(time.Millisecond)
	}

	stop()
	logged := out.count()
	time.Sleep(30 * time.Millisecond)
	if out.count() != logged {
		t.Fatalf("reporter kept logging after stop")
	}
}

func TestLedgerKeepsAggregateWhenStoreFails(t *testing.T) {
	l := NewLedger(config.TelemetryConfig{Enabled: true}, failingStore{}, nil, prometheus.NewRegistry())
	err := l.Record(context.Background(), result(models.AgentSummary, true, false, 10, 0.01, 1))
	if err == nil {
		t.Fatalf("expected persistence error to surface")
	}
	p, ok := l.Snapshot(models.AgentSummary)
	if !ok || p.TotalAnalyses != 1 {
		t.Fatalf("in-memory aggregate must survive a failed persist")
	}
}
