package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/model"
)

// SQLiteJobStore persists jobs in SQLite. Conditions are stored as a JSON
// array of tagged rules. Listing returns jobs in insertion order.
type SQLiteJobStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteJobStore opens (or creates) the job database at dbPath
func NewSQLiteJobStore(logger *zap.Logger, dbPath string) (*SQLiteJobStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteJobStore{
		logger: logger.Named("job-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteJobStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			path TEXT,
			disabled INTEGER NOT NULL DEFAULT 0,
			conditions TEXT NOT NULL,
			updated_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Save implements scheduler.JobStore
func (s *SQLiteJobStore) Save(ctx context.Context, job *model.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return saveJob(ctx, s.db, job)
}

// SaveAll implements scheduler.JobStore. The jobs are written in one
// transaction.
func (s *SQLiteJobStore) SaveAll(ctx context.Context, jobs []*model.Job) error {
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, job := range jobs {
		if err := saveJob(ctx, tx, job); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back job batch", zap.Error(rbErr))
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job batch: %w", err)
	}

	s.logger.Info("Saved job batch", zap.Int("count", len(jobs)))
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func saveJob(ctx context.Context, db execer, job *model.Job) error {
	conds, err := model.MarshalRules(job.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (name, owner, path, disabled, conditions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			path = excluded.path,
			disabled = excluded.disabled,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at`,
		job.Name,
		job.Owner,
		sql.NullString{String: job.Path, Valid: job.Path != ""},
		job.Disabled,
		string(data),
		sql.NullTime{Time: job.UpdatedAt, Valid: !job.UpdatedAt.IsZero()},
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.Name, err)
	}
	return nil
}

// Get implements scheduler.JobStore
func (s *SQLiteJobStore) Get(ctx context.Context, name string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, owner, path, disabled, conditions, updated_at
		FROM jobs
		WHERE name = ?`, name)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
		}
		return nil, err
	}
	return job, nil
}

// List implements scheduler.JobStore
func (s *SQLiteJobStore) List(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, owner, path, disabled, conditions, updated_at
		FROM jobs
		ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return jobs, nil
}

// Delete removes a job
func (s *SQLiteJobStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}

	s.logger.Info("Deleted job", zap.String("name", name))
	return nil
}

// Close closes the database connection
func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var path sql.NullString
	var conditions string
	var updatedAt sql.NullTime

	err := row.Scan(
		&job.Name,
		&job.Owner,
		&path,
		&job.Disabled,
		&conditions,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(conditions), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of job %s: %w", job.Name, err)
	}
	job.Conditions, err = model.UnmarshalRules(raw)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	if path.Valid {
		job.Path = path.String
	}
	if updatedAt.Valid {
		job.UpdatedAt = updatedAt.Time.In(time.UTC)
	}
	return &job, nil
}
