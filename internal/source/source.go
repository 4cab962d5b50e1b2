package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/intelbrief/intelbrief/models"
)

// RawItem is the normalized record every adapter emits. Wire-format
// parsing (feed XML, social JSON) happens behind the adapter boundary.
type RawItem struct {
	ExternalID  string          `json:"external_id"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Author      string          `json:"author,omitempty"`
	Category    models.Category `json:"category"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// Adapter produces normalized records from one configured source.
type Adapter interface {
	ID() string
	Name() string
	Category() models.Category
	Collect(ctx context.Context) ([]RawItem, error)
}

// CollectionError marks an adapter-level failure (network, upstream parse).
// It is never retried within the same cycle; the next scheduled cycle
// retries the source naturally.
type CollectionError struct {
	SourceID string
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection from %s failed: %v", e.SourceID, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// ValidationError marks a malformed RawItem. The item is counted and
// skipped, never persisted, never retried.
type ValidationError struct {
	SourceID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid item from %s: %s", e.SourceID, e.Reason)
}

// Validate rejects records that cannot become Items.
func Validate(sourceID string, raw RawItem) error {
	if strings.TrimSpace(raw.ExternalID) == "" {
		return &ValidationError{SourceID: sourceID, Reason: "missing external id"}
	}
	if strings.TrimSpace(raw.Title) == "" && strings.TrimSpace(raw.Body) == "" {
		return &ValidationError{SourceID: sourceID, Reason: "missing content"}
	}
	if raw.Category == "" {
		return &ValidationError{SourceID: sourceID, Reason: "missing category"}
	}
	return nil
}
