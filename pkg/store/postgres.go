package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aigrc/pipeline/pkg/events"

	_ "github.com/lib/pq"
)

// PostgresEventStore is the durable multi-node backend.
type PostgresEventStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresEventStore migrates the schema and returns the store.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the receipt clock for deterministic testing.
func (s *PostgresEventStore) WithClock(clock func() time.Time) *PostgresEventStore {
	s.clock = clock
	return s
}

func (s *PostgresEventStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			org_id TEXT NOT NULL,
			id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			category TEXT NOT NULL,
			criticality TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			produced_at TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			hash TEXT NOT NULL,
			envelope JSONB NOT NULL,
			PRIMARY KEY (org_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_org_received ON events(org_id, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_org_asset ON events(org_id, asset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_org_correlation ON events(org_id, correlation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate events: %w", err)
		}
	}
	return nil
}

func (s *PostgresEventStore) Insert(ctx context.Context, e *events.Event) (*events.Event, bool, error) {
	stored := e.Clone()
	now := s.clock().UTC()
	stored.ReceivedAt = &now

	envelope, err := json.Marshal(stored)
	if err != nil {
		return nil, false, fmt.Errorf("encode envelope: %w", err)
	}

	query := `INSERT INTO events (
		org_id, id, asset_id, event_type, category, criticality, correlation_id, produced_at, received_at, hash, envelope
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (org_id, id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		stored.OrgID,
		stored.ID,
		stored.AssetID,
		stored.Type,
		string(stored.Category),
		string(stored.Criticality),
		stored.CorrelationID,
		stored.ProducedAt.UTC(),
		now,
		stored.Hash,
		envelope,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := s.Get(ctx, e.OrgID, e.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return stored, true, nil
}

func (s *PostgresEventStore) Get(ctx context.Context, orgID, id string) (*events.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT envelope FROM events WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanEnvelope(row)
}

func (s *PostgresEventStore) Query(ctx context.Context, q Query) (*Page, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}
	where, args := postgresWhere(q)

	page := &Page{Limit: q.Limit, Offset: q.Offset}
	countRow := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE `+where, args...)
	if err := countRow.Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	dir := "DESC"
	if q.Order == OrderOldestFirst {
		dir = "ASC"
	}
	query := fmt.Sprintf(
		`SELECT envelope FROM events WHERE %s ORDER BY received_at %s, id %s LIMIT $%d OFFSET $%d`,
		where, dir, dir, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, err
		}
		e, err := decodeEnvelope(envelope)
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *PostgresEventStore) Assets(ctx context.Context, orgID string, limit, offset int) (*AssetPage, error) {
	limit, offset, err := assetWindow(orgID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &AssetPage{Limit: limit, Offset: offset}
	countRow := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT asset_id) FROM events WHERE org_id = $1`, orgID)
	if err := countRow.Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, COUNT(*), MIN(received_at), MAX(received_at)
		 FROM events WHERE org_id = $1
		 GROUP BY asset_id
		 ORDER BY MAX(received_at) DESC, asset_id ASC
		 LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sum AssetSummary
		if err := rows.Scan(&sum.AssetID, &sum.EventCount, &sum.FirstSeen, &sum.LastSeen); err != nil {
			return nil, err
		}
		page.Assets = append(page.Assets, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *PostgresEventStore) Close() error { return s.db.Close() }

func postgresWhere(q Query) (string, []any) {
	clauses := []string{"org_id = $1"}
	args := []any{q.OrgID}

	add := func(expr string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if q.AssetID != "" {
		add("asset_id = $%d", q.AssetID)
	}
	if q.Type != "" {
		add("event_type = $%d", q.Type)
	}
	if q.Category != "" {
		add("category = $%d", string(q.Category))
	}
	if q.Criticality != "" {
		add("criticality = $%d", string(q.Criticality))
	}
	if q.CorrelationID != "" {
		add("correlation_id = $%d", q.CorrelationID)
	}
	if !q.ProducedSince.IsZero() {
		add("produced_at >= $%d", q.ProducedSince.UTC())
	}
	if !q.ProducedUntil.IsZero() {
		add("produced_at <= $%d", q.ProducedUntil.UTC())
	}
	return strings.Join(clauses, " AND "), args
}
