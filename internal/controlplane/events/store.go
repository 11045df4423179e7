package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// InteractivePageSize caps page sizes for the interactive query API.
const InteractivePageSize = 50

// Fixed-width UTC timestamp storage format: lexicographic order equals
// chronological order, which both backends can index and sort natively.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	// SQLitePath is the default backend (a file under the data dir).
	SQLitePath string
	// PostgresDSN, when set, selects the Postgres backend instead.
	PostgresDSN string
	// TokenKey signs page tokens so tampering is detectable.
	TokenKey []byte
}

// Page is one page of query results.
type Page struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	// NextPageToken is present when more results remain.
	NextPageToken string `json:"next_page_token,omitempty"`
}

// Store persists events append-only and serves filtered, paginated reads.
type Store struct {
	db       *sql.DB
	driver   string
	tokenKey []byte
	logger   *zap.Logger

	retention *retentionSweeper
}

// NewStore opens (or creates) the event store.
func NewStore(cfg StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.TokenKey) == 0 {
		return nil, fmt.Errorf("page token key required")
	}

	driver, dsn := "sqlite", cfg.SQLitePath
	if cfg.PostgresDSN != "" {
		driver, dsn = "pgx", cfg.PostgresDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("event store path or DSN required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open events db: %w", err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id            TEXT PRIMARY KEY,
		occurred      TEXT NOT NULL,
		name          TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		resource_json TEXT NOT NULL,
		related_json  TEXT NOT NULL,
		payload_json  TEXT NOT NULL,
		received      TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create events: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_resource_id ON events(resource_id)`)

	return &Store{db: db, driver: driver, tokenKey: cfg.TokenKey, logger: logger}, nil
}

// Close stops the retention sweep and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.retention != nil {
		s.retention.stop()
	}
	return s.db.Close()
}

// Insert appends a batch of events. Duplicate ids are ignored so redelivery
// of the same event is harmless; stored events are never updated.
func (s *Store) Insert(ctx context.Context, batch []Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO events
		(id, occurred, name, resource_id, resource_json, related_json, payload_json, received)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range batch {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		resourceJSON, err := json.Marshal(ev.Resource)
		if err != nil {
			return fmt.Errorf("marshal resource: %w", err)
		}
		relatedJSON, err := json.Marshal(ev.Related)
		if err != nil {
			return fmt.Errorf("marshal related: %w", err)
		}
		payloadJSON, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		received := ev.Received
		if received.IsZero() {
			received = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			ev.Occurred.UTC().Format(storedTimeLayout),
			ev.Event,
			ev.Resource.ID(),
			string(resourceJSON),
			string(relatedJSON),
			string(payloadJSON),
			received.UTC().Format(storedTimeLayout),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// Query returns the first page of events matching the filter, newest first,
// with the total match count and a continuation token when more remain.
func (s *Store) Query(ctx context.Context, filter Filter, limit int) (Page, error) {
	if limit < 1 || limit > InteractivePageSize {
		limit = InteractivePageSize
	}
	matches, err := s.scanMatching(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return s.page(filter, matches, limit, 0)
}

// QueryNextPage continues a previous query from its opaque token.
func (s *Store) QueryNextPage(ctx context.Context, token string) (Page, error) {
	cursor, err := decodePageToken(s.tokenKey, token)
	if err != nil {
		return Page{}, err
	}
	matches, err := s.scanMatching(ctx, cursor.Filter)
	if err != nil {
		return Page{}, err
	}
	return s.page(cursor.Filter, matches, cursor.Limit, cursor.Offset)
}

func (s *Store) page(filter Filter, matches []Event, limit, offset int) (Page, error) {
	page := Page{Total: len(matches), Events: []Event{}}
	if offset < len(matches) {
		end := offset + limit
		if end > len(matches) {
			end = len(matches)
		}
		page.Events = matches[offset:end]
		if end < len(matches) {
			token, err := encodePageToken(s.tokenKey, pageCursor{
				Filter:   filter,
				Limit:    limit,
				Offset:   end,
				Total:    len(matches),
				IssuedAt: time.Now().UTC(),
			})
			if err != nil {
				return Page{}, err
			}
			page.NextPageToken = token
		}
	}
	return page, nil
}

// DeleteOlderThan removes events that occurred before the cutoff. Used by
// the retention sweep; callers must keep the horizon above the largest
// configured trigger window.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM events WHERE occurred < ?`),
		cutoff.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// scanMatching loads the candidate rows (bounded by the occurred range in
// SQL) and applies the remaining filter clauses in Go, keeping the query
// identical across both backends. Rows come back newest first.
func (s *Store) scanMatching(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT id, occurred, name, resource_json, related_json, payload_json, received FROM events`
	var clauses []string
	var args []any
	if !filter.Since.IsZero() {
		clauses = append(clauses, "occurred >= ?")
		args = append(args, filter.Since.UTC().Format(storedTimeLayout))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "occurred < ?")
		args = append(args, filter.Until.UTC().Format(storedTimeLayout))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(ev) {
			matches = append(matches, ev)
		}
	}
	return matches, rows.Err()
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var occurred, resourceJSON, relatedJSON, payloadJSON, received string
	if err := rows.Scan(&ev.ID, &occurred, &ev.Event, &resourceJSON, &relatedJSON, &payloadJSON, &received); err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	var err error
	if ev.Occurred, err = time.Parse(time.RFC3339Nano, occurred); err != nil {
		return ev, fmt.Errorf("parse occurred: %w", err)
	}
	if ev.Received, err = time.Parse(time.RFC3339Nano, received); err != nil {
		return ev, fmt.Errorf("parse received: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceJSON), &ev.Resource); err != nil {
		return ev, fmt.Errorf("unmarshal resource: %w", err)
	}
	if err := json.Unmarshal([]byte(relatedJSON), &ev.Related); err != nil {
		return ev, fmt.Errorf("unmarshal related: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
		return ev, fmt.Errorf("unmarshal payload: %w", err)
	}
	return ev, nil
}

// rebind converts ? placeholders to $n for the Postgres backend.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
