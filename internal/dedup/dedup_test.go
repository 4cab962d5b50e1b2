package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/intelbrief/intelbrief/internal/store"
	"github.com/intelbrief/intelbrief/models"
)

type fakeItemStore struct {
	fingerprints map[string]string // fingerprint key -> prior item ID
	inserted     []models.Item
	insertErr    error
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{fingerprints: make(map[string]string)}
}

func (f *fakeItemStore) key(sourceID, externalID string) string {
	return sourceID + "/" + externalID
}

func (f *fakeItemStore) FindDuplicate(ctx context.Context, sourceID, externalID, contentHash string) (string, bool, error) {
	if id, ok := f.fingerprints[f.key(sourceID, externalID)]; ok {
		return id, true, nil
	}
	if id, ok := f.fingerprints["hash:"+contentHash]; ok {
		return id, true, nil
	}
	return "", false, nil
}

func (f *fakeItemStore) InsertItem(ctx context.Context, it models.Item) (models.Item, error) {
	if f.insertErr != nil {
		return models.Item{}, f.insertErr
	}
	it.ID = fmt.Sprintf("item-%d", len(f.inserted)+1)
	f.fingerprints[f.key(it.SourceID, it.ExternalID)] = it.ID
	f.fingerprints["hash:"+it.ContentHash] = it.ID
	f.inserted = append(f.inserted, it)
	return it, nil
}

func candidate(externalID, title, body string) models.Item {
	return models.Item{
		SourceID:   "feed-a",
		ExternalID: externalID,
		Category:   models.CategoryAI,
		Title:      title,
		RawContent: body,
		Status:     models.ItemStatusPending,
	}
}

func TestAdmitAcceptsNewItem(t *testing.T) {
	st := newFakeItemStore()
	g := NewGate(st, nil)

	d, err := g.Admit(context.Background(), candidate("x1", "New model released", "A long writeup."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %v, want accepted", d.Verdict)
	}
	if d.Item.ID == "" {
		t.Fatalf("accepted decision must carry the persisted item")
	}
	if d.Item.ContentHash == "" {
		t.Fatalf("content hash must be filled before insert")
	}
}

func TestAdmitIsIdempotent(t *testing.T) {
	st := newFakeItemStore()
	g := NewGate(st, nil)
	ctx := context.Background()

	batch := []models.Item{
		candidate("x1", "First", "Body one."),
		candidate("x2", "Second", "Body two."),
	}
	for _, it := range batch {
		if d, err := g.Admit(ctx, it); err != nil || d.Verdict != VerdictAccepted {
			t.Fatalf("first pass: verdict=%v err=%v", d.Verdict, err)
		}
	}
	// second pass over the same adapter output admits nothing
	for i, it := range batch {
		d, err := g.Admit(ctx, it)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Verdict != VerdictDuplicate {
			t.Fatalf("second pass verdict = %v, want duplicate", d.Verdict)
		}
		if d.DuplicateOf != st.inserted[i].ID {
			t.Fatalf("duplicate of = %q, want %q", d.DuplicateOf, st.inserted[i].ID)
		}
	}
	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d items, want 2", len(st.inserted))
	}
}

func TestAdmitRejectsSameContentDifferentID(t *testing.T) {
	st := newFakeItemStore()
	g := NewGate(st, nil)
	ctx := context.Background()

	first, err := g.Admit(ctx, candidate("x1", "Same story", "Identical body text."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := g.Admit(ctx, candidate("x2", "Same story", "Identical body text."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != VerdictDuplicate {
		t.Fatalf("verdict = %v, want duplicate via content hash", d.Verdict)
	}
	if d.DuplicateOf != first.Item.ID {
		t.Fatalf("duplicate of = %q, want the colliding item %q", d.DuplicateOf, first.Item.ID)
	}
}

func TestAdmitTooOld(t *testing.T) {
	st := newFakeItemStore()
	min := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGate(st, nil, WithMinimumDate(min))

	old := min.AddDate(0, -1, 0)
	it := candidate("x1", "Stale", "Old news.")
	it.PublishedAt = &old

	d, err := g.Admit(context.Background(), it)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != VerdictTooOld {
		t.Fatalf("verdict = %v, want too old", d.Verdict)
	}
	if len(st.inserted) != 0 {
		t.Fatalf("too-old item must not be persisted")
	}
}

func TestAdmitMissingDateBypassesAgePolicy(t *testing.T) {
	st := newFakeItemStore()
	min := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGate(st, nil, WithMinimumDate(min))

	d, err := g.Admit(context.Background(), candidate("x1", "Undated", "No published date."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %v, want accepted when published date unknown", d.Verdict)
	}
}

func TestAdmitLosesInsertRace(t *testing.T) {
	st := newFakeItemStore()
	st.insertErr = store.ErrDuplicate
	g := NewGate(st, nil)

	d, err := g.Admit(context.Background(), candidate("x1", "Racy", "Concurrent insert."))
	if err != nil {
		t.Fatalf("race on insert must resolve to duplicate, got error: %v", err)
	}
	if d.Verdict != VerdictDuplicate {
		t.Fatalf("verdict = %v, want duplicate after losing insert race", d.Verdict)
	}
}

func TestContentHashNormalizes(t *testing.T) {
	a := ContentHash("Big  Launch", "The body\nof the story")
	b := ContentHash("big launch", "the BODY of the story")
	if a != b {
		t.Fatalf("hash must ignore case and whitespace runs")
	}
	c := ContentHash("big launch", "a different body")
	if a == c {
		t.Fatalf("different content must hash differently")
	}
}
