package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/intelbrief/intelbrief/models"
)

// Store wraps the durable Postgres-backed item/result store.
type Store struct {
	DB *sql.DB
}

// ErrDuplicate is returned when an insert violates the (source_id,
// external_id) or content_hash uniqueness constraint.
var ErrDuplicate = errors.New("duplicate item")

// PersistenceError wraps a durable-store failure for one commit step.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// UpsertSource registers a configured source, keeping existing health counters.
func (s *Store) UpsertSource(ctx context.Context, id, name string, category models.Category) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sources (id, name, category) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`,
		id, name, string(category))
	if err != nil {
		return &PersistenceError{Op: "upsert source", Err: err}
	}
	return nil
}

// InsertItem persists an admitted item. Uniqueness violations map to
// ErrDuplicate so the dedup gate stays idempotent under re-runs.
func (s *Store) InsertItem(ctx context.Context, it models.Item) (models.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Status == "" {
		it.Status = models.ItemStatusPending
	}
	if it.CollectedAt.IsZero() {
		it.CollectedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO items (id, source_id, external_id, category, title, author, raw_content, content_hash, published_at, collected_at, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		it.ID, it.SourceID, it.ExternalID, string(it.Category), it.Title, nullString(it.Author),
		it.RawContent, it.ContentHash, it.PublishedAt, it.CollectedAt, string(it.Status))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Item{}, ErrDuplicate
		}
		return models.Item{}, &PersistenceError{Op: "insert item", Err: err}
	}
	return it, nil
}

// FindDuplicate returns the ID of the prior item matching the given
// identity pair or content hash, if one exists.
func (s *Store) FindDuplicate(ctx context.Context, sourceID, externalID, contentHash string) (string, bool, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
SELECT id FROM items WHERE (source_id = $1 AND external_id = $2) OR content_hash = $3
ORDER BY collected_at LIMIT 1`, sourceID, externalID, contentHash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{Op: "fingerprint lookup", Err: err}
	}
	return id, true, nil
}

const itemColumns = `id, source_id, external_id, category, title, COALESCE(author,''), raw_content, content_hash, published_at, collected_at, status, cycle_retries, quality_score`

func scanItem(scan func(...interface{}) error) (models.Item, error) {
	var it models.Item
	var category, status string
	if err := scan(&it.ID, &it.SourceID, &it.ExternalID, &category, &it.Title, &it.Author,
		&it.RawContent, &it.ContentHash, &it.PublishedAt, &it.CollectedAt, &status,
		&it.CycleRetries, &it.QualityScore); err != nil {
		return models.Item{}, err
	}
	it.Category = models.Category(category)
	it.Status = models.ItemStatus(status)
	return it, nil
}

// ListProcessable returns up to max items eligible for a processing cycle,
// oldest first. Pending items and partially processed retries qualify.
func (s *Store) ListProcessable(ctx context.Context, max int) ([]models.Item, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+itemColumns+` FROM items
WHERE status IN ($1, $2)
ORDER BY collected_at ASC
LIMIT $3`, string(models.ItemStatusPending), string(models.ItemStatusPartialProcessed), max)
	if err != nil {
		return nil, &PersistenceError{Op: "list processable", Err: err}
	}
	defer rows.Close()
	var out []models.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, &PersistenceError{Op: "scan item", Err: err}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetItem fetches one item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (models.Item, bool, error) {
	it, err := scanItem(s.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, false, nil
	}
	if err != nil {
		return models.Item{}, false, &PersistenceError{Op: "get item", Err: err}
	}
	return it, true, nil
}

// SetItemStatus records the terminal state of an item for this cycle.
func (s *Store) SetItemStatus(ctx context.Context, id string, status models.ItemStatus, cycleRetries int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE items SET status = $2, cycle_retries = $3 WHERE id = $1`,
		id, string(status), cycleRetries)
	if err != nil {
		return &PersistenceError{Op: "set item status", Err: err}
	}
	return nil
}

// SetItemQuality stores the quality score decided by stage A.
func (s *Store) SetItemQuality(ctx context.Context, id string, score float64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE items SET quality_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return &PersistenceError{Op: "set item quality", Err: err}
	}
	return nil
}

// InsertAnalysisResult commits one agent result. Any prior current result
// for the same (item, agent type) is superseded in the same transaction;
// rows are never updated in place.
func (s *Store) InsertAnalysisResult(ctx context.Context, res models.AnalysisResult) (models.AnalysisResult, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.AnalysisResult{}, &PersistenceError{Op: "begin analysis tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE analysis_results SET is_current = FALSE
WHERE item_id = $1 AND agent_type = $2 AND is_current`,
		res.ItemID, string(res.AgentType)); err != nil {
		return models.AnalysisResult{}, &PersistenceError{Op: "supersede analysis", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO analysis_results (id, item_id, agent_type, success, used_fallback, payload, error_message, processing_time_ms, token_usage, cost_estimate, is_current, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE,$11)`,
		res.ID, res.ItemID, string(res.AgentType), res.Success, res.UsedFallback, payload,
		nullString(res.ErrorMessage), res.ProcessingTimeMs, res.TokenUsage, res.CostEstimate,
		res.CreatedAt); err != nil {
		return models.AnalysisResult{}, &PersistenceError{Op: "insert analysis", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return models.AnalysisResult{}, &PersistenceError{Op: "commit analysis", Err: err}
	}
	return res, nil
}

// CurrentAnalysisResult returns the current result for (item, agent type).
func (s *Store) CurrentAnalysisResult(ctx context.Context, itemID string, agentType models.AgentType) (models.AnalysisResult, bool, error) {
	var res models.AnalysisResult
	var agent string
	var payload []byte
	var errMsg sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT id, item_id, agent_type, success, used_fallback, payload, error_message, processing_time_ms, token_usage, cost_estimate, created_at
FROM analysis_results
WHERE item_id = $1 AND agent_type = $2 AND is_current`,
		itemID, string(agentType)).Scan(
		&res.ID, &res.ItemID, &agent, &res.Success, &res.UsedFallback, &payload,
		&errMsg, &res.ProcessingTimeMs, &res.TokenUsage, &res.CostEstimate, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisResult{}, false, nil
	}
	if err != nil {
		return models.AnalysisResult{}, false, &PersistenceError{Op: "get analysis", Err: err}
	}
	res.AgentType = models.AgentType(agent)
	res.ErrorMessage = errMsg.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &res.Payload); err != nil {
			return models.AnalysisResult{}, false, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return res, true, nil
}

// UpdatePerformance atomically folds one committed result into the
// per-agent aggregate.
func (s *Store) UpdatePerformance(ctx context.Context, res models.AnalysisResult) error {
	success := int64(0)
	if res.Success {
		success = 1
	}
	fallback := int64(0)
	if res.UsedFallback {
		fallback = 1
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO agent_performance (agent_type, total_analyses, success_count, fallback_count, total_processing_time_ms, total_token_usage, total_cost, updated_at)
VALUES ($1,1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (agent_type) DO UPDATE SET
  total_analyses = agent_performance.total_analyses + 1,
  success_count = agent_performance.success_count + $2,
  fallback_count = agent_performance.fallback_count + $3,
  total_processing_time_ms = agent_performance.total_processing_time_ms + $4,
  total_token_usage = agent_performance.total_token_usage + $5,
  total_cost = agent_performance.total_cost + $6,
  updated_at = NOW()`,
		string(res.AgentType), success, fallback, res.ProcessingTimeMs, res.Tokens(), res.Cost())
	if err != nil {
		return &PersistenceError{Op: "update performance", Err: err}
	}
	return nil
}

// PerformanceSnapshot reads the stored aggregates; no history rescans.
func (s *Store) PerformanceSnapshot(ctx context.Context) ([]models.AgentPerformance, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT agent_type, total_analyses, success_count, fallback_count, total_processing_time_ms, total_token_usage, total_cost, updated_at
FROM agent_performance ORDER BY agent_type`)
	if err != nil {
		return nil, &PersistenceError{Op: "performance snapshot", Err: err}
	}
	defer rows.Close()
	var out []models.AgentPerformance
	for rows.Next() {
		var p models.AgentPerformance
		var agent string
		if err := rows.Scan(&agent, &p.TotalAnalyses, &p.SuccessCount, &p.FallbackCount,
			&p.TotalProcessingTimeMs, &p.TotalTokenUsage, &p.TotalCost, &p.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan performance", Err: err}
		}
		p.AgentType = models.AgentType(agent)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordCollection marks a successful collection attempt for a source.
func (s *Store) RecordCollection(ctx context.Context, sourceID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE sources SET last_collected_at = NOW(), collection_count = collection_count + 1, consecutive_error_count = 0
WHERE id = $1`, sourceID)
	if err != nil {
		return &PersistenceError{Op: "record collection", Err: err}
	}
	return nil
}

// RecordCollectionError marks a failed collection attempt for a source.
func (s *Store) RecordCollectionError(ctx context.Context, sourceID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE sources SET consecutive_error_count = consecutive_error_count + 1, total_error_count = total_error_count + 1
WHERE id = $1`, sourceID)
	if err != nil {
		return &PersistenceError{Op: "record collection error", Err: err}
	}
	return nil
}

// ListSourceHealth returns the health record for every registered source.
func (s *Store) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, category, last_collected_at, collection_count, consecutive_error_count, total_error_count
FROM sources ORDER BY id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list source health", Err: err}
	}
	defer rows.Close()
	var out []models.SourceHealth
	for rows.Next() {
		var h models.SourceHealth
		var category string
		if err := rows.Scan(&h.SourceID, &h.Name, &category, &h.LastCollectedAt,
			&h.CollectionCount, &h.ConsecutiveErrorCount, &h.TotalErrorCount); err != nil {
			return nil, &PersistenceError{Op: "scan source health", Err: err}
		}
		h.Category = models.Category(category)
		out = append(out, h)
	}
	return out, rows.Err()
}

// InsertAlert persists a pipeline-emitted alert.
func (s *Store) InsertAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO alerts (id, title, message, alert_type, priority, priority_score, category, item_ids, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.Title, a.Message, a.AlertType, a.Priority, a.PriorityScore,
		string(a.Category), pq.Array(a.ItemIDs), a.CreatedAt)
	if err != nil {
		return models.Alert{}, &PersistenceError{Op: "insert alert", Err: err}
	}
	return a, nil
}

// RecentAlertExists reports whether a similar alert was emitted within the window.
func (s *Store) RecentAlertExists(ctx context.Context, category models.Category, alertType string, window time.Duration) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM alerts WHERE category = $1 AND alert_type = $2 AND created_at >= NOW() - $3::interval
)`, string(category), alertType, fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&exists)
	if err != nil {
		return false, &PersistenceError{Op: "recent alert lookup", Err: err}
	}
	return exists, nil
}

// ListRecentAlerts returns alerts created within the window, newest first.
func (s *Store) ListRecentAlerts(ctx context.Context, window time.Duration, limit int) ([]models.Alert, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, message, alert_type, priority, priority_score, category, item_ids, created_at
FROM alerts WHERE created_at >= NOW() - $1::interval
ORDER BY created_at DESC LIMIT $2`,
		fmt.Sprintf("%d seconds", int(window.Seconds())), limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list alerts", Err: err}
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var category string
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &a.AlertType, &a.Priority,
			&a.PriorityScore, &category, pq.Array(&a.ItemIDs), &a.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan alert", Err: err}
		}
		a.Category = models.Category(category)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ProcessingStats counts items per lifecycle status.
func (s *Store) ProcessingStats(ctx context.Context) (map[models.ItemStatus]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, &PersistenceError{Op: "processing stats", Err: err}
	}
	defer rows.Close()
	out := make(map[models.ItemStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &PersistenceError{Op: "scan stats", Err: err}
		}
		out[models.ItemStatus(status)] = n
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
