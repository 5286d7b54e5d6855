package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("history: submission not found")

// Record is one processed submission.
type Record struct {
	SubmissionID string `db:"submission_id" json:"submission_id"`
	Task         string `db:"task" json:"task"`
	Round        int    `db:"round" json:"round"`
	Nonce        string `db:"nonce" json:"nonce"`
	Email        string `db:"email" json:"email"`
	Status       string `db:"status" json:"status"`
	RepoURL      string `db:"repo_url" json:"repo_url"`
	PagesURL     string `db:"pages_url" json:"pages_url"`
	CommitSHA    string `db:"commit_sha" json:"commit_sha"`
	Notified     bool   `db:"notified" json:"notified"`
	ErrorMessage string `db:"error_message" json:"error_message"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
}

// Store writes submission history through sqlx. The schema sticks to types
// both MySQL and SQLite accept.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects with driver "mysql" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch driver {
	case "sqlite":
		// one writer, and ":memory:" must stay on a single connection
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(32)
		db.SetMaxIdleConns(16)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			submission_id VARCHAR(64) NOT NULL PRIMARY KEY,
			task VARCHAR(255) NOT NULL,
			round INTEGER NOT NULL,
			nonce VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			repo_url VARCHAR(512) NOT NULL DEFAULT '',
			pages_url VARCHAR(512) NOT NULL DEFAULT '',
			commit_sha VARCHAR(64) NOT NULL DEFAULT '',
			notified BOOLEAN NOT NULL DEFAULT FALSE,
			error_message TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a newly accepted submission.
func (s *Store) Insert(ctx context.Context, r Record) error {
	now := s.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO submissions
		(submission_id, task, round, nonce, email, status, repo_url, pages_url, commit_sha, notified, error_message, created_at, updated_at)
		VALUES (:submission_id, :task, :round, :nonce, :email, :status, :repo_url, :pages_url, :commit_sha, :notified, :error_message, :created_at, :updated_at)`, r)
	return err
}

// Finish stores the outcome of a submission.
func (s *Store) Finish(ctx context.Context, r Record) error {
	r.UpdatedAt = s.now().Unix()
	res, err := s.db.NamedExecContext(ctx, `UPDATE submissions SET
		status = :status, repo_url = :repo_url, pages_url = :pages_url, commit_sha = :commit_sha,
		notified = :notified, error_message = :error_message, updated_at = :updated_at
		WHERE submission_id = :submission_id`, r)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, submissionID string) (Record, error) {
	var r Record
	err := s.db.GetContext(ctx, &r, `SELECT submission_id, task, round, nonce, email, status, repo_url, pages_url,
		commit_sha, notified, COALESCE(error_message, '') AS error_message, created_at, updated_at
		FROM submissions WHERE submission_id = ?`, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// ListByTask returns a task's submissions, newest first.
func (s *Store) ListByTask(ctx context.Context, taskName string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Record
	err := s.db.SelectContext(ctx, &out, `SELECT submission_id, task, round, nonce, email, status, repo_url, pages_url,
		commit_sha, notified, COALESCE(error_message, '') AS error_message, created_at, updated_at
		FROM submissions WHERE task = ? ORDER BY created_at DESC, round DESC LIMIT ?`, taskName, limit)
	return out, err
}
