package telemetry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/models"
)

// PerformanceStore is the durable side of the ledger.
type PerformanceStore interface {
	UpdatePerformance(ctx context.Context, res models.AnalysisResult) error
}

// Ledger accumulates per-agent success, latency, token and cost aggregates.
// It is the sole writer of AgentPerformance, driven exclusively by
// committed AnalysisResults. Updates and reads are O(1): snapshots come
// from the running aggregate, never from rescanning history.
type Ledger struct {
	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
	store   PerformanceStore
	agg     map[models.AgentType]*models.AgentPerformance

	analysesTotal *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec
	costTotal     *prometheus.CounterVec
}

// NewLedger builds the ledger. store may be nil (in-memory only, used in
// tests); reg may be nil to use the default Prometheus registerer.
func NewLedger(cfg config.TelemetryConfig, store PerformanceStore, logger *log.Logger, reg prometheus.Registerer) *Ledger {
	if logger == nil {
		logger = log.New(log.Writer(), "[LEDGER] ", log.LstdFlags)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Ledger{
		enabled: cfg.Enabled,
		logger:  logger,
		store:   store,
		agg:     make(map[models.AgentType]*models.AgentPerformance),
		analysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_agent_analyses_total",
			Help: "Completed analyses per agent type and outcome.",
		}, []string{"agent_type", "success"}),
		fallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_agent_fallback_total",
			Help: "Analyses served by the heuristic fallback variant.",
		}, []string{"agent_type"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_agent_tokens_total",
			Help: "LLM tokens consumed per agent type.",
		}, []string{"agent_type"}),
		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_agent_cost_usd_total",
			Help: "Estimated LLM spend per agent type in USD.",
		}, []string{"agent_type"}),
	}
}

// Record folds one committed result into the aggregate, the durable
// counters and the Prometheus metrics.
func (l *Ledger) Record(ctx context.Context, res models.AnalysisResult) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	p, ok := l.agg[res.AgentType]
	if !ok {
		p = &models.AgentPerformance{AgentType: res.AgentType}
		l.agg[res.AgentType] = p
	}
	p.TotalAnalyses++
	if res.Success {
		p.SuccessCount++
	}
	if res.UsedFallback {
		p.FallbackCount++
	}
	p.TotalProcessingTimeMs += res.ProcessingTimeMs
	p.TotalTokenUsage += res.Tokens()
	p.TotalCost += res.Cost()
	p.UpdatedAt = time.Now().UTC()
	l.mu.Unlock()

	agentLabel := string(res.AgentType)
	l.analysesTotal.WithLabelValues(agentLabel, strconv.FormatBool(res.Success)).Inc()
	if res.UsedFallback {
		l.fallbackTotal.WithLabelValues(agentLabel).Inc()
	}
	if t := res.Tokens(); t > 0 {
		l.tokensTotal.WithLabelValues(agentLabel).Add(float64(t))
	}
	if c := res.Cost(); c > 0 {
		l.costTotal.WithLabelValues(agentLabel).Add(c)
	}

	if l.store != nil {
		if err := l.store.UpdatePerformance(ctx, res); err != nil {
			return fmt.Errorf("persist performance: %w", err)
		}
	}
	return nil
}

// Snapshot returns the aggregate for one agent type.
func (l *Ledger) Snapshot(agentType models.AgentType) (models.AgentPerformance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.agg[agentType]
	if !ok {
		return models.AgentPerformance{AgentType: agentType}, false
	}
	return *p, true
}

// Snapshots returns every agent aggregate, ordered by agent type.
func (l *Ledger) Snapshots() []models.AgentPerformance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.AgentPerformance, 0, len(l.agg))
	for _, p := range l.agg {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out
}

// Report logs a one-line summary per agent, for periodic operator logs.
func (l *Ledger) Report() {
	for _, p := range l.Snapshots() {
		l.logger.Printf("%s: analyses=%d success_rate=%.2f fallbacks=%d avg_time=%v cost=$%.4f",
			p.AgentType, p.TotalAnalyses, p.SuccessRate(), p.FallbackCount, p.AvgProcessingTime(), p.TotalCost)
	}
}

// ReportEvery logs the ledger summary on the given interval until the
// returned stop function is called. Stop blocks until the reporting
// goroutine has exited.
func (l *Ledger) ReportEvery(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.Report()
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
