package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aigrc/pipeline/pkg/events"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width UTC so lexicographic order on the TEXT
// column equals chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteEventStore is the lite-mode backend: a single-file database with
// no external dependencies. The full envelope is the source of truth;
// the typed columns exist for filtering and ordering.
type SQLiteEventStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteEventStore migrates the schema and returns the store.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the receipt clock for deterministic testing.
func (s *SQLiteEventStore) WithClock(clock func() time.Time) *SQLiteEventStore {
	s.clock = clock
	return s
}

func (s *SQLiteEventStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			org_id TEXT NOT NULL,
			id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			category TEXT NOT NULL,
			criticality TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			produced_at TEXT NOT NULL,
			received_at TEXT NOT NULL,
			hash TEXT NOT NULL,
			envelope TEXT NOT NULL,
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

func (s *SQLiteEventStore) Insert(ctx context.Context, e *events.Event) (*events.Event, bool, error) {
	stored := e.Clone()
	now := s.clock().UTC()
	stored.ReceivedAt = &now

	envelope, err := json.Marshal(stored)
	if err != nil {
		return nil, false, fmt.Errorf("encode envelope: %w", err)
	}

	query := `INSERT INTO events (
		org_id, id, asset_id, event_type, category, criticality, correlation_id, produced_at, received_at, hash, envelope
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (org_id, id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		stored.OrgID,
		stored.ID,
		stored.AssetID,
		stored.Type,
		string(stored.Category),
		string(stored.Criticality),
		stored.CorrelationID,
		stored.ProducedAt.UTC().Format(sqliteTimeLayout),
		now.Format(sqliteTimeLayout),
		stored.Hash,
		string(envelope),
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

func (s *SQLiteEventStore) Get(ctx context.Context, orgID, id string) (*events.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT envelope FROM events WHERE org_id = ? AND id = ?`, orgID, id)
	return scanEnvelope(row)
}

func (s *SQLiteEventStore) Query(ctx context.Context, q Query) (*Page, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}
	where, args := sqliteWhere(q)

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
		`SELECT envelope FROM events WHERE %s ORDER BY received_at %s, id %s LIMIT ? OFFSET ?`,
		where, dir, dir)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var envelope string
		if err := rows.Scan(&envelope); err != nil {
			return nil, err
		}
		e, err := decodeEnvelope([]byte(envelope))
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

func (s *SQLiteEventStore) Assets(ctx context.Context, orgID string, limit, offset int) (*AssetPage, error) {
	limit, offset, err := assetWindow(orgID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &AssetPage{Limit: limit, Offset: offset}
	countRow := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT asset_id) FROM events WHERE org_id = ?`, orgID)
	if err := countRow.Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, COUNT(*), MIN(received_at), MAX(received_at)
		 FROM events WHERE org_id = ?
		 GROUP BY asset_id
		 ORDER BY MAX(received_at) DESC, asset_id ASC
		 LIMIT ? OFFSET ?`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sum AssetSummary
		var first, last string
		if err := rows.Scan(&sum.AssetID, &sum.EventCount, &first, &last); err != nil {
			return nil, err
		}
		if sum.FirstSeen, err = time.Parse(sqliteTimeLayout, first); err != nil {
			return nil, fmt.Errorf("decode firstSeen: %w", err)
		}
		if sum.LastSeen, err = time.Parse(sqliteTimeLayout, last); err != nil {
			return nil, fmt.Errorf("decode lastSeen: %w", err)
		}
		page.Assets = append(page.Assets, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *SQLiteEventStore) Close() error { return s.db.Close() }

func sqliteWhere(q Query) (string, []any) {
	clauses := []string{"org_id = ?"}
	args := []any{q.OrgID}

	add := func(column string, value any) {
		clauses = append(clauses, column+" = ?")
		args = append(args, value)
	}
	if q.AssetID != "" {
		add("asset_id", q.AssetID)
	}
	if q.Type != "" {
		add("event_type", q.Type)
	}
	if q.Category != "" {
		add("category", string(q.Category))
	}
	if q.Criticality != "" {
		add("criticality", string(q.Criticality))
	}
	if q.CorrelationID != "" {
		add("correlation_id", q.CorrelationID)
	}
	if !q.ProducedSince.IsZero() {
		clauses = append(clauses, "produced_at >= ?")
		args = append(args, q.ProducedSince.UTC().Format(sqliteTimeLayout))
	}
	if !q.ProducedUntil.IsZero() {
		clauses = append(clauses, "produced_at <= ?")
		args = append(args, q.ProducedUntil.UTC().Format(sqliteTimeLayout))
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*events.Event, error) {
	var envelope string
	if err := row.Scan(&envelope); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeEnvelope([]byte(envelope))
}

func decodeEnvelope(data []byte) (*events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode stored envelope: %w", err)
	}
	return &e, nil
}
