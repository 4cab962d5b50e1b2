package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intelbrief/intelbrief/internal/store"
	"github.com/intelbrief/intelbrief/models"
)

// Verdict classifies one admission decision.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictDuplicate
	VerdictTooOld
)

// Decision is the outcome of Gate.Admit for one candidate.
type Decision struct {
	Verdict Verdict
	// Item is the persisted item when accepted.
	Item models.Item
	// DuplicateOf names the prior item a duplicate collided with. May be
	// empty when the prior ID cannot be resolved, such as a lost insert
	// race whose winning row is not yet visible.
	DuplicateOf string
}

// ItemStore is the durable side of the gate. Its unique constraints are
// the source of truth for deduplication.
type ItemStore interface {
	FindDuplicate(ctx context.Context, sourceID, externalID, contentHash string) (string, bool, error)
	InsertItem(ctx context.Context, it models.Item) (models.Item, error)
}

// Gate filters candidate items against prior-seen fingerprints and the
// minimum-date policy. Safe to re-run over the same adapter output: the
// second pass admits nothing.
type Gate struct {
	store       ItemStore
	rdb         *redis.Client
	cacheTTL    time.Duration
	minimumDate time.Time
	hasMinimum  bool
	logger      *log.Logger
}

// Option configures the gate.
type Option func(*Gate)

// WithCache enables the Redis fingerprint pre-filter. The cache only
// short-circuits known duplicates; misses always fall through to the store.
func WithCache(rdb *redis.Client, ttl time.Duration) Option {
	return func(g *Gate) {
		g.rdb = rdb
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		g.cacheTTL = ttl
	}
}

// WithMinimumDate rejects items whose known published date is older.
func WithMinimumDate(min time.Time) Option {
	return func(g *Gate) {
		g.minimumDate = min
		g.hasMinimum = true
	}
}

// NewGate builds a deduplication gate over the given store.
func NewGate(store ItemStore, logger *log.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = log.New(log.Writer(), "[DEDUP] ", log.LstdFlags)
	}
	g := &Gate{store: store, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ContentHash fingerprints normalized title+body: case-folded with all
// whitespace runs collapsed to single spaces.
func ContentHash(title, body string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(title+" "+body)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Admit decides whether a candidate enters the durable store. Accepted
// items are persisted before Admit returns; no partially written item is
// ever visible to readers.
func (g *Gate) Admit(ctx context.Context, candidate models.Item) (Decision, error) {
	if candidate.ContentHash == "" {
		candidate.ContentHash = ContentHash(candidate.Title, candidate.RawContent)
	}

	if g.hasMinimum && candidate.PublishedAt != nil && candidate.PublishedAt.Before(g.minimumDate) {
		return Decision{Verdict: VerdictTooOld}, nil
	}

	if priorID, hit := g.cachedDuplicate(ctx, candidate); hit {
		return Decision{Verdict: VerdictDuplicate, DuplicateOf: priorID}, nil
	}

	priorID, seen, err := g.store.FindDuplicate(ctx, candidate.SourceID, candidate.ExternalID, candidate.ContentHash)
	if err != nil {
		return Decision{}, err
	}
	if seen {
		g.cacheFingerprint(ctx, candidate, priorID)
		return Decision{Verdict: VerdictDuplicate, DuplicateOf: priorID}, nil
	}

	inserted, err := g.store.InsertItem(ctx, candidate)
	if err != nil {
		if isDuplicateErr(err) {
			// lost the race against a concurrent run; same answer, and the
			// winner's row is already visible for the ID lookup
			priorID, _, _ := g.store.FindDuplicate(ctx, candidate.SourceID, candidate.ExternalID, candidate.ContentHash)
			return Decision{Verdict: VerdictDuplicate, DuplicateOf: priorID}, nil
		}
		return Decision{}, err
	}
	g.cacheFingerprint(ctx, inserted, inserted.ID)
	return Decision{Verdict: VerdictAccepted, Item: inserted}, nil
}

// cachedDuplicate checks the Redis pre-filter; the cached value is the
// prior item's ID.
func (g *Gate) cachedDuplicate(ctx context.Context, it models.Item) (string, bool) {
	if g.rdb == nil {
		return "", false
	}
	keys := []string{identityKey(it.SourceID, it.ExternalID), hashKey(it.ContentHash)}
	vals, err := g.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		// cache trouble never blocks admission; the store decides
		g.logger.Printf("fingerprint cache lookup failed: %v", err)
		return "", false
	}
	for _, v := range vals {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

func (g *Gate) cacheFingerprint(ctx context.Context, it models.Item, priorID string) {
	if g.rdb == nil {
		return
	}
	pipe := g.rdb.Pipeline()
	pipe.Set(ctx, identityKey(it.SourceID, it.ExternalID), priorID, g.cacheTTL)
	pipe.Set(ctx, hashKey(it.ContentHash), priorID, g.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Printf("fingerprint cache write failed: %v", err)
	}
}

func isDuplicateErr(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}

func identityKey(sourceID, externalID string) string {
	return "dedup:id:" + sourceID + ":" + externalID
}

func hashKey(contentHash string) string {
	return "dedup:hash:" + contentHash
}
