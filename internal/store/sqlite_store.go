package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

const resultsMigration = `
CREATE TABLE IF NOT EXISTS scan_results (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  content_hash TEXT,
  score INTEGER NOT NULL,
  severity TEXT NOT NULL,
  corrupted INTEGER NOT NULL,
  reasons TEXT NOT NULL,
  telemetry TEXT NOT NULL,
  diff TEXT,
  duration_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_results_url ON scan_results(url);
CREATE INDEX IF NOT EXISTS idx_scan_results_created_at ON scan_results(created_at);
`

// SQLiteStore persists scan results in a sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenSQLite opens (creating if needed) the results database at path and
// runs migrations. Use ":memory:" style DSNs for tests.
func OpenSQLite(path string, logger logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening results database: %w", err)
	}
	// modernc sqlite misbehaves with concurrent writers on one handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		if logger != nil {
			logger.Warn("setting sqlite pragmas", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return NewSQLiteStore(db, logger)
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB, logger logging.Logger) (*SQLiteStore, error) {
	if _, err := db.Exec(resultsMigration); err != nil {
		return nil, fmt.Errorf("store: running migration: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result *model.ScanResult) (string, error) {
	id := uuid.New().String()

	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return "", fmt.Errorf("store: encoding reasons: %w", err)
	}
	telemetry, err := json.Marshal(result.Telemetry)
	if err != nil {
		return "", fmt.Errorf("store: encoding telemetry: %w", err)
	}
	var diff []byte
	if result.Diff != nil {
		if diff, err = json.Marshal(result.Diff); err != nil {
			return "", fmt.Errorf("store: encoding diff: %w", err)
		}
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_results
		  (id, url, content_hash, score, severity, corrupted, reasons, telemetry, diff, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, result.URL, result.ContentHash, result.Score, string(result.Severity),
		boolToInt(result.Corrupted), string(reasons), string(telemetry),
		nullableString(diff), result.DurationMs, createdAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("store: inserting scan result: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.ScanResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, content_hash, score, severity, corrupted, reasons, telemetry, diff, duration_ms, created_at
		FROM scan_results WHERE id = ?`, id)

	var (
		r         model.ScanResult
		corrupted int
		reasons   string
		telemetry string
		diff      sql.NullString
		severity  string
		createdAt int64
	)
	err := row.Scan(&r.ID, &r.URL, &r.ContentHash, &r.Score, &severity, &corrupted,
		&reasons, &telemetry, &diff, &r.DurationMs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading scan result: %w", err)
	}

	r.Severity = model.Severity(severity)
	r.Corrupted = corrupted != 0
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
		return nil, fmt.Errorf("store: decoding reasons: %w", err)
	}
	if err := json.Unmarshal([]byte(telemetry), &r.Telemetry); err != nil {
		return nil, fmt.Errorf("store: decoding telemetry: %w", err)
	}
	if diff.Valid && diff.String != "" {
		r.Diff = &model.DiffReport{}
		if err := json.Unmarshal([]byte(diff.String), r.Diff); err != nil {
			return nil, fmt.Errorf("store: decoding diff: %w", err)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
