// Package store persists accepted governance events exactly once.
//
// Every implementation enforces the same contract: the first insert of an
// event id within an organization wins and assigns receivedAt; any replay
// returns the originally stored event unchanged. Reads are always scoped
// to one organization, so no query can cross a tenant boundary.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aigrc/pipeline/pkg/events"
)

var (
	// ErrNotFound reports an event id with no stored event in the org.
	ErrNotFound = errors.New("store: event not found")

	// ErrOrgScope reports a query without an organization scope.
	ErrOrgScope = errors.New("store: query requires an organization scope")
)

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Order direction for query results, by receipt time.
type Order string

// Order constants.
const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

// Query selects stored events. OrgID is required; every other filter is
// optional and conjunctive.
type Query struct {
	OrgID         string
	AssetID       string
	Type          string
	Category      events.Category
	Criticality   events.Criticality
	CorrelationID string
	ProducedSince time.Time
	ProducedUntil time.Time
	Limit         int
	Offset        int
	Order         Order
}

// normalize applies defaults and bounds. Limit is clamped rather than
// rejected so a greedy reader degrades instead of erroring.
func (q *Query) normalize() error {
	if q.OrgID == "" {
		return ErrOrgScope
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Order != OrderOldestFirst {
		q.Order = OrderNewestFirst
	}
	return nil
}

// Page is one window of query results with the total match count, so
// readers can paginate without a second counting round trip.
type Page struct {
	Events []*events.Event `json:"events"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// AssetSummary aggregates one distinct asset's event activity.
type AssetSummary struct {
	AssetID    string    `json:"assetId"`
	EventCount int64     `json:"eventCount"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
}

// AssetPage is one window of distinct assets, most recently active
// first.
type AssetPage struct {
	Assets []AssetSummary `json:"assets"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// assetWindow applies the shared limit/offset defaults for asset
// listings.
func assetWindow(orgID string, limit, offset int) (int, int, error) {
	if orgID == "" {
		return 0, 0, ErrOrgScope
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}

// EventStore is the persistence contract for accepted events.
type EventStore interface {
	// Insert stores e with a freshly assigned receivedAt and returns the
	// stored form. If the id already exists in the org, nothing is
	// written and the original stored event is returned with
	// inserted=false.
	Insert(ctx context.Context, e *events.Event) (stored *events.Event, inserted bool, err error)

	// Get returns the stored event by id within the org.
	Get(ctx context.Context, orgID, id string) (*events.Event, error)

	// Query returns one page of matching events.
	Query(ctx context.Context, q Query) (*Page, error)

	// Assets returns one page of distinct asset IDs in the org with
	// their activity bounds, most recently active first.
	Assets(ctx context.Context, orgID string, limit, offset int) (*AssetPage, error)

	Close() error
}

// matches reports whether a stored event satisfies the query filters.
// The SQL implementations push these into WHERE clauses; the memory
// implementation evaluates them directly.
func matches(e *events.Event, q Query) bool {
	if e.OrgID != q.OrgID {
		return false
	}
	if q.AssetID != "" && e.AssetID != q.AssetID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.Criticality != "" && e.Criticality != q.Criticality {
		return false
	}
	if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
		return false
	}
	if !q.ProducedSince.IsZero() && e.ProducedAt.Before(q.ProducedSince) {
		return false
	}
	if !q.ProducedUntil.IsZero() && e.ProducedAt.After(q.ProducedUntil) {
		return false
	}
	return true
}
