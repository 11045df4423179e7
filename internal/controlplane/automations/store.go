package automations

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an automation id does not exist.
var ErrNotFound = errors.New("automation not found")

// ErrInvalidAutomation wraps validation failures on create and update.
var ErrInvalidAutomation = errors.New("invalid automation")

// StoreConfig selects the backing database. PostgresDSN wins when both
// are set.
type StoreConfig struct {
	SQLitePath  string
	PostgresDSN string
}

// Store persists automations and keeps an in-memory cache of them for the
// evaluation hot path. The cache is refreshed synchronously on every
// write, so Observe sees a change as soon as the API call returns.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Automation
}

// NewStore opens the database, creates the schema, and loads the cache.
func NewStore(cfg StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, dsn := "sqlite", cfg.SQLitePath
	if cfg.PostgresDSN != "" {
		driver, dsn = "pgx", cfg.PostgresDSN
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening automation store: %w", err)
	}
	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL: %w", err)
		}
	}
	s := &Store{db: db, driver: driver, logger: logger, cache: make(map[string]Automation)}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.refresh(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS automations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		trigger_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating automations table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for the pgx driver.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Create validates and persists a new automation.
func (s *Store) Create(a Automation) (Automation, error) {
	if err := a.Validate(); err != nil {
		return Automation{}, fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	triggerJSON, actionsJSON, err := encodeParts(a)
	if err != nil {
		return Automation{}, err
	}
	_, err = s.db.Exec(s.rebind(
		`INSERT INTO automations (id, name, description, enabled, trigger_json, actions_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.Description, boolToInt(a.Enabled), triggerJSON, actionsJSON,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Automation{}, fmt.Errorf("inserting automation: %w", err)
	}
	if err := s.refresh(); err != nil {
		return Automation{}, err
	}
	s.logger.Info("automation created",
		zap.String("id", a.ID),
		zap.String("name", a.Name),
		zap.String("posture", string(a.Trigger.Posture)),
	)
	return a, nil
}

// Update validates and replaces an existing automation.
func (s *Store) Update(a Automation) (Automation, error) {
	if err := a.Validate(); err != nil {
		return Automation{}, fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	existing, err := s.Get(a.ID)
	if err != nil {
		return Automation{}, err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	triggerJSON, actionsJSON, err := encodeParts(a)
	if err != nil {
		return Automation{}, err
	}
	_, err = s.db.Exec(s.rebind(
		`UPDATE automations SET name = ?, description = ?, enabled = ?, trigger_json = ?, actions_json = ?, updated_at = ?
		 WHERE id = ?`),
		a.Name, a.Description, boolToInt(a.Enabled), triggerJSON, actionsJSON,
		a.UpdatedAt.Format(time.RFC3339Nano), a.ID,
	)
	if err != nil {
		return Automation{}, fmt.Errorf("updating automation: %w", err)
	}
	if err := s.refresh(); err != nil {
		return Automation{}, err
	}
	return a, nil
}

// SetEnabled flips the enabled flag without touching the definition.
func (s *Store) SetEnabled(id string, enabled bool) (Automation, error) {
	a, err := s.Get(id)
	if err != nil {
		return Automation{}, err
	}
	a.Enabled = enabled
	return s.Update(a)
}

// Delete removes an automation.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(s.rebind(`DELETE FROM automations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return s.refresh()
}

// Get returns one automation from the cache.
func (s *Store) Get(id string) (Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.cache[id]
	if !ok {
		return Automation{}, ErrNotFound
	}
	return a, nil
}

// List returns all automations sorted by name.
func (s *Store) List() []Automation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Automation, 0, len(s.cache))
	for _, a := range s.cache {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns every enabled automation. This is the evaluation hot
// path; it reads the cache only.
func (s *Store) Enabled() []Automation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Automation, 0, len(s.cache))
	for _, a := range s.cache {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// refresh reloads the cache from the database.
func (s *Store) refresh() error {
	rows, err := s.db.Query(
		`SELECT id, name, description, enabled, trigger_json, actions_json, created_at, updated_at FROM automations`)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]Automation)
	for rows.Next() {
		var (
			a                        Automation
			enabled                  int
			triggerJSON, actionsJSON string
			createdAt, updatedAt     string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &enabled, &triggerJSON, &actionsJSON, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("scanning automation: %w", err)
		}
		a.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(triggerJSON), &a.Trigger); err != nil {
			return fmt.Errorf("decoding trigger for %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &a.Actions); err != nil {
			return fmt.Errorf("decoding actions for %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return fmt.Errorf("decoding created_at for %s: %w", a.ID, err)
		}
		if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return fmt.Errorf("decoding updated_at for %s: %w", a.ID, err)
		}
		cache[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

func encodeParts(a Automation) (string, string, error) {
	triggerJSON, err := json.Marshal(a.Trigger)
	if err != nil {
		return "", "", fmt.Errorf("encoding trigger: %w", err)
	}
	actionsJSON, err := json.Marshal(a.Actions)
	if err != nil {
		return "", "", fmt.Errorf("encoding actions: %w", err)
	}
	return string(triggerJSON), string(actionsJSON), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
