package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/agent"
	"github.com/intelbrief/intelbrief/models"
)

// Store is the durable-store surface the orchestrator commits through.
type Store interface {
	ListProcessable(ctx context.Context, max int) ([]models.Item, error)
	SetItemStatus(ctx context.Context, id string, status models.ItemStatus, cycleRetries int) error
	SetItemQuality(ctx context.Context, id string, score float64) error
	InsertAnalysisResult(ctx context.Context, res models.AnalysisResult) (models.AnalysisResult, error)
	InsertAlert(ctx context.Context, a models.Alert) (models.Alert, error)
	RecentAlertExists(ctx context.Context, category models.Category, alertType string, window time.Duration) (bool, error)
}

// Analyzer is the registry surface: one call, one guaranteed result.
type Analyzer interface {
	Analyze(ctx context.Context, agentType models.AgentType, in agent.Input) models.AnalysisResult
}

// Recorder is the ledger surface for committed results.
type Recorder interface {
	Record(ctx context.Context, res models.AnalysisResult) error
}

// CycleReport summarizes one processing cycle.
type CycleReport struct {
	Selected          int           `json:"selected"`
	FullyProcessed    int           `json:"fully_processed"`
	MinimalProcessed  int           `json:"minimal_processed"`
	PartialProcessed  int           `json:"partially_processed"`
	PermanentlyFailed int           `json:"permanently_failed"`
	FallbackCount     int           `json:"fallback_count"`
	AlertsEmitted     int           `json:"alerts_emitted"`
	Duration          time.Duration `json:"duration"`
}

// Processed counts items that finished the cycle in any terminal state
// other than retry.
func (r CycleReport) Processed() int {
	return r.FullyProcessed + r.MinimalProcessed
}

// Orchestrator drives one processing cycle: select, quality stage, gate,
// summary stage, trend stage over groups, alert stage, commit. Stages are
// sequential; items within a stage run concurrently up to StageWorkers.
type Orchestrator struct {
	cfg      config.PipelineConfig
	store    Store
	registry Analyzer
	ledger   Recorder
	logger   *log.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(cfg config.PipelineConfig, st Store, registry Analyzer, ledger Recorder, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Orchestrator{cfg: cfg, store: st, registry: registry, ledger: ledger, logger: logger}
}

// itemState tracks one item through the cycle's stages.
type itemState struct {
	item      models.Item
	score     float64
	summary   string
	trendNote string
	gated     bool
	failed    bool
	fallbacks int
}

// RunCycle executes one full processing cycle. A failure on one item never
// aborts the batch: that item is marked for retry and the rest continue.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{}

	if o.cfg.CycleDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CycleDeadline)
		defer cancel()
	}

	items, err := o.store.ListProcessable(ctx, o.cfg.MaxBatchSize)
	if err != nil {
		return report, fmt.Errorf("select batch: %w", err)
	}
	report.Selected = len(items)
	if len(items) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}
	o.logger.Printf("cycle start: %d items selected", len(items))

	states := make([]*itemState, len(items))
	for i, it := range items {
		states[i] = &itemState{item: it}
	}

	o.stageQuality(ctx, states)
	active := o.applyGate(ctx, states)
	o.stageSummary(ctx, active)
	report.AlertsEmitted += o.stageTrends(ctx, active)
	report.AlertsEmitted += o.stageAlerts(ctx, active)

	o.finalize(ctx, states, &report)
	report.Duration = time.Since(start)
	o.logger.Printf("cycle done in %v: full=%d minimal=%d partial=%d failed=%d fallbacks=%d alerts=%d",
		report.Duration, report.FullyProcessed, report.MinimalProcessed,
		report.PartialProcessed, report.PermanentlyFailed, report.FallbackCount, report.AlertsEmitted)
	return report, nil
}

// stageQuality runs the quality agent for every selected item.
func (o *Orchestrator) stageQuality(ctx context.Context, states []*itemState) {
	// in-flight work finishes naturally once the cycle deadline hits;
	// the launch guard below stops new work instead
	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(o.cfg.StageWorkers)
	for _, st := range states {
		st := st
		if ctx.Err() != nil {
			st.failed = true
			continue
		}
		g.Go(func() error {
			res := o.registry.Analyze(bg, models.AgentContentQuality, agent.Input{Item: &st.item})
			if !o.commit(bg, st, res) {
				return nil
			}
			st.score = payloadFloat(res.Payload, "quality_score")
			if err := o.store.SetItemQuality(bg, st.item.ID, st.score); err != nil {
				o.logger.Printf("item %s: persist quality score: %v", st.item.ID, err)
				st.failed = true
			}
			return nil
		})
	}
	_ = g.Wait()
}

// applyGate routes items to stages B+ iff score >= threshold (inclusive).
// Gated-out items skip the expensive agents entirely.
func (o *Orchestrator) applyGate(ctx context.Context, states []*itemState) []*itemState {
	var active []*itemState
	for _, st := range states {
		if st.failed {
			continue
		}
		if st.score >= o.cfg.QualityThreshold {
			active = append(active, st)
			continue
		}
		st.gated = true
	}
	return active
}

// stageSummary summarizes every gated-in item.
func (o *Orchestrator) stageSummary(ctx context.Context, active []*itemState) {
	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(o.cfg.StageWorkers)
	for _, st := range active {
		st := st
		if st.failed {
			continue
		}
		if ctx.Err() != nil {
			st.failed = true
			continue
		}
		g.Go(func() error {
			res := o.registry.Analyze(bg, models.AgentSummary, agent.Input{Item: &st.item})
			if o.commit(bg, st, res) {
				st.summary = payloadString(res.Payload, "summary")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stageTrends synthesizes trends over item groups and emits one alert per
// group, deduplicated within the configured window. The group result is
// committed once per member item so each (item, agent) pair has a current
// row; cost and tokens are attributed to the first member only.
func (o *Orchestrator) stageTrends(ctx context.Context, active []*itemState) int {
	bg := context.WithoutCancel(ctx)
	groups := o.groupForTrends(active)
	alerts := 0
	for _, group := range groups {
		if ctx.Err() != nil {
			for _, st := range group.members {
				st.failed = true
			}
			continue
		}
		members := group.members
		res := o.registry.Analyze(bg, models.AgentTrendSynthesis, agent.Input{Group: &group.TrendGroup})
		analysis := payloadString(res.Payload, "analysis")

		for i, st := range members {
			r := res
			r.ID = ""
			r.ItemID = st.item.ID
			if i > 0 {
				r.TokenUsage = nil
				r.CostEstimate = nil
			}
			if o.commit(bg, st, r) {
				st.trendNote = analysis
			}
		}

		if analysis == "" {
			continue
		}
		exists, err := o.store.RecentAlertExists(bg, group.Category, "trend_analysis", o.cfg.AlertDedupWindow)
		if err != nil {
			o.logger.Printf("trend alert dedup lookup: %v", err)
			continue
		}
		if exists {
			continue
		}
		itemIDs := make([]string, 0, len(members))
		for _, st := range members {
			itemIDs = append(itemIDs, st.item.ID)
		}
		if _, err := o.store.InsertAlert(bg, models.Alert{
			Title:     fmt.Sprintf("Trend analysis: %s", group.Category),
			Message:   analysis,
			AlertType: "trend_analysis",
			Priority:  models.AlertPriorityMedium,
			Category:  group.Category,
			ItemIDs:   itemIDs,
		}); err != nil {
			o.logger.Printf("emit trend alert: %v", err)
			continue
		}
		alerts++
	}
	return alerts
}

// stageAlerts decides per item whether it deserves an operator alert,
// consuming the stage B summary and stage C trend context.
func (o *Orchestrator) stageAlerts(ctx context.Context, active []*itemState) int {
	alerts := 0
	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(o.cfg.StageWorkers)
	emitted := make([]bool, len(active))
	for i, st := range active {
		i, st := i, st
		if st.failed {
			continue
		}
		if ctx.Err() != nil {
			st.failed = true
			continue
		}
		g.Go(func() error {
			draft := models.Alert{
				Title:     st.item.Title,
				Message:   st.summary,
				AlertType: "item_review",
				Category:  st.item.Category,
				CreatedAt: st.item.CollectedAt,
			}
			res := o.registry.Analyze(bg, models.AgentAlertPrioritization, agent.Input{
				Alert:        &draft,
				Item:         &st.item,
				Summary:      st.summary,
				TrendContext: st.trendNote,
			})
			if !o.commit(bg, st, res) {
				return nil
			}
			score := payloadFloat(res.Payload, "priority_score")
			priority := payloadString(res.Payload, "recommended_priority")
			if priority != models.AlertPriorityHigh && priority != models.AlertPriorityCritical {
				return nil
			}
			if _, err := o.store.InsertAlert(bg, models.Alert{
				Title:         st.item.Title,
				Message:       st.summary,
				AlertType:     "high_priority_item",
				Priority:      priority,
				PriorityScore: &score,
				Category:      st.item.Category,
				ItemIDs:       []string{st.item.ID},
			}); err != nil {
				o.logger.Printf("emit item alert: %v", err)
				return nil
			}
			emitted[i] = true
			return nil
		})
	}
	_ = g.Wait()
	for _, ok := range emitted {
		if ok {
			alerts++
		}
	}
	return alerts
}

// finalize writes each item's terminal state for this cycle.
func (o *Orchestrator) finalize(ctx context.Context, states []*itemState, report *CycleReport) {
	for _, st := range states {
		report.FallbackCount += st.fallbacks
		switch {
		case st.failed:
			retries := st.item.CycleRetries + 1
			if retries >= o.cfg.MaxCycleRetries {
				o.logger.Printf("item %s: permanently failed after %d cycles", st.item.ID, retries)
				o.setStatus(ctx, st.item.ID, models.ItemStatusPermanentlyFailed, retries)
				report.PermanentlyFailed++
			} else {
				o.setStatus(ctx, st.item.ID, models.ItemStatusPartialProcessed, retries)
				report.PartialProcessed++
			}
		case st.gated:
			o.setStatus(ctx, st.item.ID, models.ItemStatusMinimalProcessed, 0)
			report.MinimalProcessed++
		default:
			o.setStatus(ctx, st.item.ID, models.ItemStatusFullyProcessed, 0)
			report.FullyProcessed++
		}
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, id string, status models.ItemStatus, retries int) {
	if err := o.store.SetItemStatus(context.WithoutCancel(ctx), id, status, retries); err != nil {
		o.logger.Printf("item %s: set status %s: %v", id, status, err)
	}
}

// commit persists one result and feeds the ledger. A persistence failure
// marks the item for retry next cycle and never aborts the batch.
func (o *Orchestrator) commit(ctx context.Context, st *itemState, res models.AnalysisResult) bool {
	committed, err := o.store.InsertAnalysisResult(ctx, res)
	if err != nil {
		o.logger.Printf("item %s: commit %s result: %v", res.ItemID, res.AgentType, err)
		st.failed = true
		return false
	}
	if res.UsedFallback {
		st.fallbacks++
	}
	if o.ledger != nil {
		if err := o.ledger.Record(ctx, committed); err != nil {
			// aggregate lag is tolerable; the result row is already durable
			o.logger.Printf("ledger record %s: %v", res.AgentType, err)
		}
	}
	return true
}

// trendGroup pairs the model-facing group with its member states.
type trendGroup struct {
	models.TrendGroup
	members []*itemState
}

// groupForTrends applies the configured grouping policy: strict category
// grouping, or category groups merged when their top keywords overlap.
func (o *Orchestrator) groupForTrends(active []*itemState) []*trendGroup {
	byCategory := make(map[models.Category]*trendGroup)
	var order []models.Category
	for _, st := range active {
		if st.failed {
			continue
		}
		g, ok := byCategory[st.item.Category]
		if !ok {
			g = &trendGroup{TrendGroup: models.TrendGroup{
				Key:      string(st.item.Category),
				Category: st.item.Category,
			}}
			byCategory[st.item.Category] = g
			order = append(order, st.item.Category)
		}
		g.Items = append(g.Items, st.item)
		g.members = append(g.members, st)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	groups := make([]*trendGroup, 0, len(order))
	for _, c := range order {
		groups = append(groups, byCategory[c])
	}
	if o.cfg.TrendGrouping != "keyword" {
		return groups
	}
	return mergeByKeywordOverlap(groups)
}

// mergeByKeywordOverlap folds groups whose top keywords intersect into the
// earlier group, for cross-category stories.
func mergeByKeywordOverlap(groups []*trendGroup) []*trendGroup {
	keywords := make([]map[string]bool, len(groups))
	for i, g := range groups {
		set := make(map[string]bool)
		for _, w := range agent.TopKeywords(g.Items, 5) {
			set[w] = true
		}
		keywords[i] = set
	}

	merged := make([]bool, len(groups))
	var out []*trendGroup
	for i, g := range groups {
		if merged[i] {
			continue
		}
		for j := i + 1; j < len(groups); j++ {
			if merged[j] || !overlaps(keywords[i], keywords[j]) {
				continue
			}
			g.Key = g.Key + "+" + groups[j].Key
			g.Items = append(g.Items, groups[j].Items...)
			g.members = append(g.members, groups[j].members...)
			merged[j] = true
		}
		out = append(out, g)
	}
	return out
}

func overlaps(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}

func payloadFloat(payload map[string]interface{}, key string) float64 {
	if payload == nil {
		return 0
	}
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return 0
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
