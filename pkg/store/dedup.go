package store

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aigrc/pipeline/pkg/events"
)

// DefaultDedupSize bounds the recently-seen id cache.
const DefaultDedupSize = 16384

// DedupEventStore fronts another store with an LRU of recently accepted
// (org, id) pairs, short-circuiting the common replay case to one read.
// The cache is a hint only: correctness always comes from the inner
// store's conflict handling, and entries are added only after the inner
// store has confirmed the event exists.
type DedupEventStore struct {
	inner EventStore
	seen  *lru.Cache[string, struct{}]
}

// NewDedupEventStore wraps inner with a cache of the given size.
func NewDedupEventStore(inner EventStore, size int) (*DedupEventStore, error) {
	if size <= 0 {
		size = DefaultDedupSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &DedupEventStore{inner: inner, seen: seen}, nil
}

func dedupKey(orgID, id string) string {
	return orgID + "\x00" + id
}

func (d *DedupEventStore) Insert(ctx context.Context, e *events.Event) (*events.Event, bool, error) {
	key := dedupKey(e.OrgID, e.ID)
	if d.seen.Contains(key) {
		existing, err := d.inner.Get(ctx, e.OrgID, e.ID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		// Stale hint; fall through to the authoritative insert.
		d.seen.Remove(key)
	}

	stored, inserted, err := d.inner.Insert(ctx, e)
	if err != nil {
		return nil, false, err
	}
	d.seen.Add(key, struct{}{})
	return stored, inserted, nil
}

func (d *DedupEventStore) Get(ctx context.Context, orgID, id string) (*events.Event, error) {
	return d.inner.Get(ctx, orgID, id)
}

func (d *DedupEventStore) Query(ctx context.Context, q Query) (*Page, error) {
	return d.inner.Query(ctx, q)
}

func (d *DedupEventStore) Assets(ctx context.Context, orgID string, limit, offset int) (*AssetPage, error) {
	return d.inner.Assets(ctx, orgID, limit, offset)
}

func (d *DedupEventStore) Close() error { return d.inner.Close() }
