package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

type SessionRepository struct{ db *sql.DB }

var _ analysis.Repository = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB) *SessionRepository { return &SessionRepository{db: db} }

// Save insert/update Session record
func (r *SessionRepository) Save(ctx context.Context, s *analysis.Session) error {
	const q = `
INSERT INTO analysis_sessions
(id, execution_arn, bucket, files, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
 execution_arn = EXCLUDED.execution_arn,
 files = EXCLUDED.files,
 status = EXCLUDED.status,
 updated_at = EXCLUDED.updated_at;`

	files := s.Files
	if files == nil {
		files = []analysis.UploadedFile{}
	}
	encoded, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err = r.db.ExecContext(ctx, q,
		string(s.ID), s.ExecutionARN, s.Bucket, string(encoded), string(s.Status), created, updated,
	)
	return err
}

// Get by session id
func (r *SessionRepository) Get(ctx context.Context, id analysis.SessionID) (*analysis.Session, error) {
	const q = `
SELECT id, execution_arn, bucket, files, status, created_at, updated_at
FROM analysis_sessions
WHERE id=$1 LIMIT 1;`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("Analysis session not found").With("sessionId", string(id))
	}
	return s, err
}

// Latest sessions, newest first
func (r *SessionRepository) Latest(ctx context.Context, limit int) ([]*analysis.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, execution_arn, bucket, files, status, created_at, updated_at
FROM analysis_sessions
ORDER BY created_at DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, id analysis.SessionID, status analysis.ExecutionStatus, at time.Time) error {
	const q = `UPDATE analysis_sessions SET status=$1, updated_at=$2 WHERE id=$3;`
	res, err := r.db.ExecContext(ctx, q, string(status), at, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("Analysis session not found").With("sessionId", string(id))
	}
	return nil
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errs.Unavailable("database unreachable").Wrap(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*analysis.Session, error) {
	var (
		s      analysis.Session
		id     string
		status string
		files  []byte
	)
	if err := row.Scan(&id, &s.ExecutionARN, &s.Bucket, &files, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ID = analysis.SessionID(id)
	s.Status = analysis.ExecutionStatus(status)
	if len(files) > 0 {
		if err := json.Unmarshal(files, &s.Files); err != nil {
			return nil, fmt.Errorf("decode files of %s: %w", id, err)
		}
	}
	return &s, nil
}
