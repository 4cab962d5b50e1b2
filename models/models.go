package models

import (
	"time"
)

// AgentType identifies one analysis capability.
type AgentType string

const (
	AgentContentQuality      AgentType = "content_quality"
	AgentSummary             AgentType = "summary"
	AgentTrendSynthesis      AgentType = "trend_synthesis"
	AgentAlertPrioritization AgentType = "alert_prioritization"
)

// AllAgentTypes lists every capability the pipeline runs, in stage order.
var AllAgentTypes = []AgentType{
	AgentContentQuality,
	AgentSummary,
	AgentTrendSynthesis,
	AgentAlertPrioritization,
}

// Category taxonomy for collected content.
type Category string

const (
	CategoryAI            Category = "ai"
	CategoryScience       Category = "science"
	CategoryInternational Category = "international"
)

// ItemStatus tracks the pipeline lifecycle of an item.
type ItemStatus string

const (
	ItemStatusPending           ItemStatus = "pending"
	ItemStatusFullyProcessed    ItemStatus = "fully_processed"
	ItemStatusMinimalProcessed  ItemStatus = "minimal_processed"
	ItemStatusPartialProcessed  ItemStatus = "partially_processed"
	ItemStatusPermanentlyFailed ItemStatus = "permanently_failed"
)

// Item is a normalized unit of collected content from any source.
// Immutable once admitted by the dedup gate; never deleted by the pipeline.
type Item struct {
	ID           string     `json:"id"`
	SourceID     string     `json:"source_id"`
	ExternalID   string     `json:"external_id"`
	Category     Category   `json:"category"`
	Title        string     `json:"title"`
	Author       string     `json:"author,omitempty"`
	RawContent   string     `json:"raw_content"`
	ContentHash  string     `json:"content_hash"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CollectedAt  time.Time  `json:"collected_at"`
	Status       ItemStatus `json:"status"`
	CycleRetries int        `json:"cycle_retries"`
	QualityScore *float64   `json:"quality_score,omitempty"`
}

// AnalysisResult is the output of one agent run against one item.
// At most one current result exists per (item, agent type); re-processing
// supersedes the prior row, it never mutates it.
type AnalysisResult struct {
	ID               string                 `json:"id"`
	ItemID           string                 `json:"item_id"`
	AgentType        AgentType              `json:"agent_type"`
	Success          bool                   `json:"success"`
	UsedFallback     bool                   `json:"used_fallback"`
	Payload          map[string]interface{} `json:"payload"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	TokenUsage       *int64                 `json:"token_usage,omitempty"`
	CostEstimate     *float64               `json:"cost_estimate,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Tokens returns the token usage, treating a missing value as zero.
func (r AnalysisResult) Tokens() int64 {
	if r.TokenUsage == nil {
		return 0
	}
	return *r.TokenUsage
}

// Cost returns the cost estimate, treating a missing value as zero.
func (r AnalysisResult) Cost() float64 {
	if r.CostEstimate == nil {
		return 0
	}
	return *r.CostEstimate
}

// AgentPerformance is the rolling aggregate per agent type, derived
// entirely from committed AnalysisResults.
type AgentPerformance struct {
	AgentType             AgentType `json:"agent_type"`
	TotalAnalyses         int64     `json:"total_analyses"`
	SuccessCount          int64     `json:"success_count"`
	FallbackCount         int64     `json:"fallback_count"`
	TotalProcessingTimeMs int64     `json:"total_processing_time_ms"`
	TotalTokenUsage       int64     `json:"total_token_usage"`
	TotalCost             float64   `json:"total_cost"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// SuccessRate returns successes over total, or 0 when nothing ran yet.
func (p AgentPerformance) SuccessRate() float64 {
	if p.TotalAnalyses == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalAnalyses)
}

// AvgProcessingTime returns the mean duration of one analysis.
func (p AgentPerformance) AvgProcessingTime() time.Duration {
	if p.TotalAnalyses == 0 {
		return 0
	}
	return time.Duration(p.TotalProcessingTimeMs/p.TotalAnalyses) * time.Millisecond
}

// SourceStatus classifies a source for display only; it never gates the pipeline.
type SourceStatus string

const (
	SourceHealthy  SourceStatus = "healthy"
	SourceDegraded SourceStatus = "degraded"
	SourceDown     SourceStatus = "down"
)

// SourceHealth is the per-source collection health record.
type SourceHealth struct {
	SourceID              string     `json:"source_id"`
	Name                  string     `json:"name"`
	Category              Category   `json:"category"`
	LastCollectedAt       *time.Time `json:"last_collected_at,omitempty"`
	CollectionCount       int64      `json:"collection_count"`
	ConsecutiveErrorCount int64      `json:"consecutive_error_count"`
	TotalErrorCount       int64      `json:"total_error_count"`
}

// Status derives the display classification from consecutive errors.
func (h SourceHealth) Status() SourceStatus {
	switch {
	case h.ConsecutiveErrorCount == 0:
		return SourceHealthy
	case h.ConsecutiveErrorCount < 3:
		return SourceDegraded
	default:
		return SourceDown
	}
}

// AlertPriority levels, lowest to highest.
const (
	AlertPriorityLow      = "low"
	AlertPriorityMedium   = "medium"
	AlertPriorityHigh     = "high"
	AlertPriorityCritical = "critical"
)

// Alert is emitted by the pipeline when trend synthesis or alert
// prioritization decides something needs operator attention. It holds
// item references by value only.
type Alert struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	AlertType     string    `json:"alert_type"`
	Priority      string    `json:"priority"`
	PriorityScore *float64  `json:"priority_score,omitempty"`
	Category      Category  `json:"category"`
	ItemIDs       []string  `json:"item_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TrendGroup is a set of items grouped for trend synthesis.
type TrendGroup struct {
	Key      string   `json:"key"`
	Category Category `json:"category"`
	Items    []Item   `json:"items"`
}
