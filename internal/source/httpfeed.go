package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/intelbrief/intelbrief/models"
)

// HTTPFeedAdapter pulls normalized records from an HTTP endpoint that
// serves a JSON array of RawItems. Upstream collectors (feed bridges,
// social exporters) are expected to do the format-specific parsing.
type HTTPFeedAdapter struct {
	id       string
	name     string
	category models.Category
	endpoint string
	client   *http.Client
	retries  int
	backoff  time.Duration
}

// NewHTTPFeedAdapter builds an adapter for one configured endpoint.
func NewHTTPFeedAdapter(id, name string, category models.Category, endpoint string, timeout time.Duration) *HTTPFeedAdapter {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFeedAdapter{
		id:       id,
		name:     name,
		category: category,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retries:  2,
		backoff:  300 * time.Millisecond,
	}
}

func (a *HTTPFeedAdapter) ID() string                { return a.id }
func (a *HTTPFeedAdapter) Name() string              { return a.name }
func (a *HTTPFeedAdapter) Category() models.Category { return a.category }

// Collect fetches the endpoint with bounded retries and returns the
// normalized records. Records missing a category inherit the adapter's.
func (a *HTTPFeedAdapter) Collect(ctx context.Context) ([]RawItem, error) {
	var items []RawItem
	if err := a.getJSON(ctx, a.endpoint, &items); err != nil {
		return nil, &CollectionError{SourceID: a.id, Err: err}
	}
	for i := range items {
		if items[i].Category == "" {
			items[i].Category = a.category
		}
	}
	return items, nil
}

func (a *HTTPFeedAdapter) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	tries := a.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					lastErr = json.NewDecoder(resp.Body).Decode(out)
					return
				}
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				lastErr = fmt.Errorf("%s: %s", resp.Status, string(b))
			}()
			if lastErr == nil {
				return nil
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(a.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// StaticAdapter serves a fixed record set; used in tests and dry runs.
type StaticAdapter struct {
	SourceID   string
	SourceName string
	Cat        models.Category
	Items      []RawItem
	Err        error
}

func (a *StaticAdapter) ID() string                { return a.SourceID }
func (a *StaticAdapter) Name() string              { return a.SourceName }
func (a *StaticAdapter) Category() models.Category { return a.Cat }

func (a *StaticAdapter) Collect(ctx context.Context) ([]RawItem, error) {
	if a.Err != nil {
		return nil, &CollectionError{SourceID: a.SourceID, Err: a.Err}
	}
	out := make([]RawItem, len(a.Items))
	copy(out, a.Items)
	return out, nil
}

// ErrUnknownKind indicates an unrecognized adapter kind in configuration.
var ErrUnknownKind = errors.New("unknown source kind")
