package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cochaviz/cask/internal/artifacts"
	"github.com/cochaviz/cask/internal/build"

	_ "modernc.org/sqlite"
)

var _ build.RecordRepository = (*SQLiteRecordRepository)(nil)

// SQLiteRecordRepository stores build records in a SQLite database using
// modernc.org/sqlite (pure Go).
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewSQLiteRecordRepository opens or creates a database at path and ensures
// the schema exists.
func NewSQLiteRecordRepository(path string) (*SQLiteRecordRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	repo := &SQLiteRecordRepository{db: db}
	if err := repo.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return repo, nil
}

func (s *SQLiteRecordRepository) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		profile     TEXT NOT NULL DEFAULT '',
		image_tag   TEXT NOT NULL,
		platform    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		exit_code   INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		artifacts   TEXT NOT NULL DEFAULT '[]',
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_builds_agent ON builds(agent_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteRecordRepository) Close() error {
	return s.db.Close()
}

// Save inserts the record or replaces every column of the row with the same id.
func (s *SQLiteRecordRepository) Save(ctx context.Context, record build.BuildRecord) error {
	if record.ID == "" {
		return errors.New("build id is required")
	}
	staged, err := json.Marshal(record.Artifacts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO builds
		 (id, agent_id, profile, image_tag, platform, status, exit_code, error, artifacts, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   agent_id = excluded.agent_id,
		   profile = excluded.profile,
		   image_tag = excluded.image_tag,
		   platform = excluded.platform,
		   status = excluded.status,
		   exit_code = excluded.exit_code,
		   error = excluded.error,
		   artifacts = excluded.artifacts,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at`,
		record.ID, record.AgentID, record.Profile, record.ImageTag, record.Platform,
		string(record.Status), record.ExitCode, record.Error, string(staged),
		toUnixNano(record.StartedAt), toUnixNano(record.FinishedAt),
	)
	return err
}

const selectColumns = `SELECT id, agent_id, profile, image_tag, platform, status, exit_code, error, artifacts, started_at, finished_at FROM builds`

// Get returns the record with the provided ID.
func (s *SQLiteRecordRepository) Get(ctx context.Context, buildID string) (build.BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, buildID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return build.BuildRecord{}, fmt.Errorf("%w: %s", build.ErrRecordNotFound, buildID)
	}
	return record, err
}

// LatestForAgent returns the most recently started build of agentID.
func (s *SQLiteRecordRepository) LatestForAgent(ctx context.Context, agentID string) (build.BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE agent_id = ? ORDER BY started_at DESC, id ASC LIMIT 1`, agentID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return build.BuildRecord{}, fmt.Errorf("%w: no builds for agent %s", build.ErrRecordNotFound, agentID)
	}
	return record, err
}

// ListByAgent returns every build of agentID, newest first.
func (s *SQLiteRecordRepository) ListByAgent(ctx context.Context, agentID string) ([]build.BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE agent_id = ? ORDER BY started_at DESC, id ASC`, agentID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *SQLiteRecordRepository) List(ctx context.Context, limit int) ([]build.BuildRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (build.BuildRecord, error) {
	var (
		record     build.BuildRecord
		status     string
		staged     string
		startedAt  int64
		finishedAt int64
	)
	if err := row.Scan(
		&record.ID, &record.AgentID, &record.Profile, &record.ImageTag, &record.Platform,
		&status, &record.ExitCode, &record.Error, &staged, &startedAt, &finishedAt,
	); err != nil {
		return build.BuildRecord{}, err
	}

	record.Status = build.BuildStatus(status)
	record.StartedAt = fromUnixNano(startedAt)
	record.FinishedAt = fromUnixNano(finishedAt)
	if staged != "" && staged != "null" {
		var list []artifacts.Artifact
		if err := json.Unmarshal([]byte(staged), &list); err != nil {
			return build.BuildRecord{}, fmt.Errorf("decode artifacts of %s: %w", record.ID, err)
		}
		if len(list) > 0 {
			record.Artifacts = list
		}
	}
	return record, nil
}

func collect(rows *sql.Rows) ([]build.BuildRecord, error) {
	defer rows.Close()

	var records []build.BuildRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
