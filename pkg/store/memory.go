package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aigrc/pipeline/pkg/events"
)

// MemoryEventStore keeps events in process memory. It backs tests and
// single-node lite deployments that can afford to lose history on
// restart; the dedup and scoping contract is identical to the SQL
// stores.
type MemoryEventStore struct {
	mu    sync.RWMutex
	byOrg map[string]map[string]*events.Event
	order []*events.Event // receipt order
	clock func() time.Time
}

// NewMemoryEventStore returns an empty in-memory store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byOrg: make(map[string]map[string]*events.Event),
		clock: time.Now,
	}
}

// WithClock overrides the receipt clock for deterministic testing.
func (s *MemoryEventStore) WithClock(clock func() time.Time) *MemoryEventStore {
	s.clock = clock
	return s
}

func (s *MemoryEventStore) Insert(ctx context.Context, e *events.Event) (*events.Event, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	org := s.byOrg[e.OrgID]
	if existing, ok := org[e.ID]; ok {
		return existing.Clone(), false, nil
	}

	stored := e.Clone()
	now := s.clock().UTC()
	stored.ReceivedAt = &now

	if org == nil {
		org = make(map[string]*events.Event)
		s.byOrg[e.OrgID] = org
	}
	org[e.ID] = stored
	s.order = append(s.order, stored)
	return stored.Clone(), true, nil
}

func (s *MemoryEventStore) Get(ctx context.Context, orgID, id string) (*events.Event, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byOrg[orgID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryEventStore) Query(ctx context.Context, q Query) (*Page, error) {
	_ = ctx
	if err := q.normalize(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*events.Event
	for _, e := range s.order {
		if matches(e, q) {
			matched = append(matched, e)
		}
	}
	if q.Order == OrderNewestFirst {
		reverse(matched)
	}

	page := &Page{Total: int64(len(matched)), Limit: q.Limit, Offset: q.Offset}
	if q.Offset >= len(matched) {
		return page, nil
	}
	window := matched[q.Offset:]
	if len(window) > q.Limit {
		window = window[:q.Limit]
	}
	page.Events = make([]*events.Event, len(window))
	for i, e := range window {
		page.Events[i] = e.Clone()
	}
	return page, nil
}

func (s *MemoryEventStore) Assets(ctx context.Context, orgID string, limit, offset int) (*AssetPage, error) {
	_ = ctx
	limit, offset, err := assetWindow(orgID, limit, offset)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byAsset := make(map[string]*AssetSummary)
	for _, e := range s.order {
		if e.OrgID != orgID {
			continue
		}
		sum, ok := byAsset[e.AssetID]
		if !ok {
			sum = &AssetSummary{AssetID: e.AssetID, FirstSeen: *e.ReceivedAt, LastSeen: *e.ReceivedAt}
			byAsset[e.AssetID] = sum
		}
		sum.EventCount++
		if e.ReceivedAt.Before(sum.FirstSeen) {
			sum.FirstSeen = *e.ReceivedAt
		}
		if e.ReceivedAt.After(sum.LastSeen) {
			sum.LastSeen = *e.ReceivedAt
		}
	}

	all := make([]AssetSummary, 0, len(byAsset))
	for _, sum := range byAsset {
		all = append(all, *sum)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeen.Equal(all[j].LastSeen) {
			return all[i].LastSeen.After(all[j].LastSeen)
		}
		return all[i].AssetID < all[j].AssetID
	})

	page := &AssetPage{Total: int64(len(all)), Limit: limit, Offset: offset}
	if offset >= len(all) {
		return page, nil
	}
	window := all[offset:]
	if len(window) > limit {
		window = window[:limit]
	}
	page.Assets = append(page.Assets, window...)
	return page, nil
}

func (s *MemoryEventStore) Close() error { return nil }

// Len returns the number of stored events across all organizations.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func reverse(evs []*events.Event) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
}
