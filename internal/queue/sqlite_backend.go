package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

const jobsMigration = `
CREATE TABLE IF NOT EXISTS scan_jobs (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  requester_id TEXT,
  priority INTEGER NOT NULL,
  timeout_ms INTEGER NOT NULL,
  skip_cache INTEGER NOT NULL,
  state TEXT NOT NULL,
  enqueued_at INTEGER NOT NULL,
  started_at INTEGER,
  finished_at INTEGER,
  failure_reason TEXT,
  result TEXT
);

CREATE INDEX IF NOT EXISTS idx_scan_jobs_state ON scan_jobs(state);
CREATE INDEX IF NOT EXISTS idx_scan_jobs_enqueued_at ON scan_jobs(enqueued_at);
`

// sqliteBackend wraps the in-memory scheduler with a durable job record.
// Scheduling decisions stay in memory; every state transition is mirrored
// to sqlite so terminal jobs survive restarts and history eviction.
type sqliteBackend struct {
	*memoryScheduler
	db     *sql.DB
	logger logging.Logger
}

func newSQLiteBackend(cfg Config, exec Executor, bus *events.Bus, logger logging.Logger) (Backend, error) {
	if exec == nil {
		return nil, fmt.Errorf("queue: sqlite backend requires an executor")
	}
	path := cfg.StoragePath
	if path == "" {
		path = DefaultConfig().StoragePath
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("queue")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: opening job database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		logger.Warn("setting sqlite pragmas", logging.Field{Key: "error", Value: err.Error()})
	}
	if _, err := db.Exec(jobsMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: running job migration: %w", err)
	}

	b := &sqliteBackend{db: db, logger: logger}
	// Jobs that were queued or active when the previous process died can
	// never finish; mark them failed before accepting new work.
	if err := b.failOrphans(); err != nil {
		logger.Warn("reconciling orphaned jobs", logging.Field{Key: "error", Value: err.Error()})
	}
	b.memoryScheduler = newMemoryScheduler(cfg, exec, bus, logger, b.persistJob)
	return b, nil
}

func (b *sqliteBackend) failOrphans() error {
	_, err := b.db.Exec(`
		UPDATE scan_jobs
		SET state = ?, failure_reason = ?, finished_at = ?
		WHERE state IN (?, ?)`,
		string(StateFailed), "scanner restarted before job finished", time.Now().UTC().UnixMilli(),
		string(StateQueued), string(StateActive),
	)
	return err
}

func (b *sqliteBackend) persistJob(job *Job) {
	var result []byte
	if job.Result != nil {
		var err error
		if result, err = json.Marshal(job.Result); err != nil {
			b.logger.Warn("encoding job result",
				logging.Field{Key: "job_id", Value: job.ID},
				logging.Field{Key: "error", Value: err.Error()})
			result = nil
		}
	}

	_, err := b.db.Exec(`
		INSERT INTO scan_jobs
		  (id, url, requester_id, priority, timeout_ms, skip_cache, state,
		   enqueued_at, started_at, finished_at, failure_reason, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  state = excluded.state,
		  started_at = excluded.started_at,
		  finished_at = excluded.finished_at,
		  failure_reason = excluded.failure_reason,
		  result = excluded.result`,
		job.ID, job.Request.URL, job.Request.RequesterID, job.Request.Priority,
		job.Request.TimeoutMs, jobBoolToInt(job.Request.SkipCache), string(job.State),
		job.EnqueuedAt.UnixMilli(), jobTimeMilli(job.StartedAt), jobTimeMilli(job.FinishedAt),
		job.FailureReason, jobNullableString(result),
	)
	if err != nil {
		b.logger.Warn("persisting job state",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// Job prefers the live scheduler view and falls back to the durable
// record, so terminal jobs stay addressable after history eviction and
// across restarts.
func (b *sqliteBackend) Job(id string) (*Job, bool) {
	if job, ok := b.memoryScheduler.Job(id); ok {
		return job, true
	}

	row := b.db.QueryRow(`
		SELECT id, url, requester_id, priority, timeout_ms, skip_cache, state,
		       enqueued_at, started_at, finished_at, failure_reason, result
		FROM scan_jobs WHERE id = ?`, id)

	var (
		job           Job
		requesterID   sql.NullString
		skipCache     int
		state         string
		enqueuedAt    int64
		startedAt     sql.NullInt64
		finishedAt    sql.NullInt64
		failureReason sql.NullString
		result        sql.NullString
	)
	err := row.Scan(&job.ID, &job.Request.URL, &requesterID, &job.Request.Priority,
		&job.Request.TimeoutMs, &skipCache, &state,
		&enqueuedAt, &startedAt, &finishedAt, &failureReason, &result)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		b.logger.Warn("reading job record",
			logging.Field{Key: "job_id", Value: id},
			logging.Field{Key: "error", Value: err.Error()})
		return nil, false
	}

	job.Request.RequesterID = requesterID.String
	job.Request.SkipCache = skipCache != 0
	job.State = State(state)
	job.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		job.FinishedAt = &t
	}
	job.FailureReason = failureReason.String
	if result.Valid && result.String != "" {
		job.Result = &model.ScanResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			b.logger.Warn("decoding job result",
				logging.Field{Key: "job_id", Value: id},
				logging.Field{Key: "error", Value: err.Error()})
			job.Result = nil
		}
	}
	return &job, true
}

func (b *sqliteBackend) Close() {
	b.memoryScheduler.Close()
	if err := b.db.Close(); err != nil {
		b.logger.Warn("closing job database", logging.Field{Key: "error", Value: err.Error()})
	}
}

func jobBoolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func jobTimeMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func jobNullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
