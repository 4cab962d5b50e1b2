package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/intelbrief/intelbrief/internal/dedup"
	"github.com/intelbrief/intelbrief/models"
)

// ErrUnknownSource indicates a collection request for an unregistered
// source ID.
var ErrUnknownSource = errors.New("unknown source")

// HealthStore records per-source collection outcomes.
type HealthStore interface {
	RecordCollection(ctx context.Context, sourceID string) error
	RecordCollectionError(ctx context.Context, sourceID string) error
}

// CollectReport summarizes one collection run for one source.
type CollectReport struct {
	SourceID   string `json:"source_id"`
	Fetched    int    `json:"fetched"`
	Invalid    int    `json:"invalid"`
	Duplicates int    `json:"duplicates"`
	TooOld     int    `json:"too_old"`
	NewItems   int    `json:"new_item_count"`
}

// Collector drives registered adapters through validation and the
// deduplication gate, and keeps source health current.
type Collector struct {
	gate     *dedup.Gate
	health   HealthStore
	adapters map[string]Adapter
	order    []string
	logger   *log.Logger
	now      func() time.Time
}

func NewCollector(gate *dedup.Gate, health HealthStore, logger *log.Logger) *Collector {
	if logger == nil {
		logger = log.New(log.Writer(), "[COLLECT] ", log.LstdFlags)
	}
	return &Collector{
		gate:     gate,
		health:   health,
		adapters: make(map[string]Adapter),
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds an adapter. Later registrations with the same ID replace
// earlier ones.
func (c *Collector) Register(a Adapter) {
	if _, ok := c.adapters[a.ID()]; !ok {
		c.order = append(c.order, a.ID())
	}
	c.adapters[a.ID()] = a
}

// SourceIDs returns registered source IDs in registration order.
func (c *Collector) SourceIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// CollectSource runs one collection cycle for a single source. Adapter
// failures mark the source unhealthy and surface as a CollectionError;
// malformed records are counted and skipped, never persisted.
func (c *Collector) CollectSource(ctx context.Context, sourceID string) (CollectReport, error) {
	a, ok := c.adapters[sourceID]
	if !ok {
		return CollectReport{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceID)
	}
	report := CollectReport{SourceID: sourceID}

	raws, err := a.Collect(ctx)
	if err != nil {
		if herr := c.health.RecordCollectionError(ctx, sourceID); herr != nil {
			c.logger.Printf("source %s: recording collection error failed: %v", sourceID, herr)
		}
		return report, &CollectionError{SourceID: sourceID, Err: err}
	}
	report.Fetched = len(raws)

	for _, raw := range raws {
		if raw.Category == "" {
			raw.Category = a.Category()
		}
		if err := Validate(sourceID, raw); err != nil {
			report.Invalid++
			c.logger.Printf("%v", err)
			continue
		}
		decision, err := c.gate.Admit(ctx, models.Item{
			SourceID:    sourceID,
			ExternalID:  raw.ExternalID,
			Category:    raw.Category,
			Title:       raw.Title,
			Author:      raw.Author,
			RawContent:  raw.Body,
			PublishedAt: raw.PublishedAt,
			CollectedAt: c.now().UTC(),
			Status:      models.ItemStatusPending,
		})
		if err != nil {
			// persistence trouble, not an adapter fault; stop the run
			// without poisoning source health
			return report, err
		}
		switch decision.Verdict {
		case dedup.VerdictAccepted:
			report.NewItems++
		case dedup.VerdictDuplicate:
			report.Duplicates++
		case dedup.VerdictTooOld:
			report.TooOld++
		}
	}

	if err := c.health.RecordCollection(ctx, sourceID); err != nil {
		c.logger.Printf("source %s: recording collection failed: %v", sourceID, err)
	}
	c.logger.Printf("source %s: fetched=%d new=%d dup=%d too_old=%d invalid=%d",
		sourceID, report.Fetched, report.NewItems, report.Duplicates, report.TooOld, report.Invalid)
	return report, nil
}

// CollectAll runs every registered source sequentially. One failing
// source does not stop the others.
func (c *Collector) CollectAll(ctx context.Context) []CollectReport {
	reports := make([]CollectReport, 0, len(c.order))
	for _, id := range c.order {
		report, err := c.CollectSource(ctx, id)
		if err != nil {
			c.logger.Printf("collect %s: %v", id, err)
		}
		reports = append(reports, report)
	}
	return reports
}
