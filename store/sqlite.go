package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SQLiteStore persists records in a single table. Searchable columns are
// kept next to a JSON payload holding the full record.
type SQLiteStore struct {
	db    *sql.DB
	table string

	schemaOnce sync.Once
	schemaErr  error
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore builds a store using the given DB and table name.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if table == "" {
		table = "pvm_instances"
	}
	return &SQLiteStore{db: db, table: table}
}

// Load reads the record for instance id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT version, payload FROM %s WHERE instance_id = ?`, s.table)
	rec, err := decodeRow(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	return rec, nil
}

// SaveIfVersion writes rec using an optimistic version compare.
func (s *SQLiteStore) SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	next, err := normalizeRecord(rec)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}

	if expectedVersion == 0 {
		next.Version = 1
		payload, err := json.Marshal(next)
		if err != nil {
			return 0, err
		}
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (instance_id, definition_key, state, version, payload, updated_at) VALUES (?, ?, ?, 1, ?, ?)`, s.table)
		result, err := s.db.ExecContext(ctx, q,
			next.InstanceID,
			next.DefinitionKey,
			next.State,
			string(payload),
			formatTimestamp(next.UpdatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("insert instance %s: %w", next.InstanceID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return 0, s.conflict(ctx, next.InstanceID, expectedVersion)
		}
		return 1, nil
	}

	next.Version = expectedVersion + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE %s SET definition_key=?, state=?, version=?, payload=?, updated_at=? WHERE instance_id=? AND version=?`, s.table)
	result, err := s.db.ExecContext(ctx, q,
		next.DefinitionKey,
		next.State,
		next.Version,
		string(payload),
		formatTimestamp(next.UpdatedAt),
		next.InstanceID,
		expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update instance %s: %w", next.InstanceID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return 0, s.conflict(ctx, next.InstanceID, expectedVersion)
	}
	return next.Version, nil
}

// List returns every record ordered by instance id.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT version, payload FROM %s ORDER BY instance_id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := decodeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) conflict(ctx context.Context, id string, expected int) error {
	current := 0
	q := fmt.Sprintf(`SELECT version FROM %s WHERE instance_id = ?`, s.table)
	_ = s.db.QueryRowContext(ctx, q, id).Scan(&current)
	return versionConflict(id, expected, current)
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	s.schemaOnce.Do(func() {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instance_id TEXT PRIMARY KEY,
			definition_key TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, s.table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			s.schemaErr = fmt.Errorf("create %s: %w", s.table, err)
		}
	})
	return s.schemaErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func decodeRow(row rowScanner) (*Record, error) {
	var version int
	var payload string
	if err := row.Scan(&version, &payload); err != nil {
		return nil, err
	}
	rec, err := decodeRecord([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode instance payload: %w", err)
	}
	rec.Version = version
	return rec, nil
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().Format(time.RFC3339Nano)
}
