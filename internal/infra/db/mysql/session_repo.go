package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

type SessionRepository struct {
	db *sql.DB
}

var _ analysis.Repository = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save insert/update Session record
func (r *SessionRepository) Save(ctx context.Context, s *analysis.Session) error {
	const q = `
INSERT INTO analysis_sessions
(id, execution_arn, bucket, files, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 execution_arn=VALUES(execution_arn),
 files=VALUES(files),
 status=VALUES(status),
 updated_at=VALUES(updated_at);
`
	files, err := encodeFiles(s.Files)
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
		string(s.ID), s.ExecutionARN, s.Bucket, files, stringOrDash(string(s.Status)), created, updated,
	)
	return err
}

// Get by session id
func (r *SessionRepository) Get(ctx context.Context, id analysis.SessionID) (*analysis.Session, error) {
	const q = `
SELECT id, execution_arn, bucket, files, status, created_at, updated_at
FROM analysis_sessions
WHERE id=? LIMIT 1;
`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, string(id)))
	if err != nil {
		return nil, notFound(err, id)
	}
	return s, nil
}

// Latest sessions, newest first
func (r *SessionRepository) Latest(ctx context.Context, limit int) ([]*analysis.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, execution_arn, bucket, files, status, created_at, updated_at
FROM analysis_sessions
ORDER BY created_at DESC LIMIT ?;
`
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
	const q = `UPDATE analysis_sessions SET status=?, updated_at=? WHERE id=?;`
	res, err := r.db.ExecContext(ctx, q, stringOrDash(string(status)), at, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 rows when nothing changed too, so confirm the row exists.
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM analysis_sessions WHERE id=?;`, string(id)).Scan(&one)
		return notFound(err, id)
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
		files  string
	)
	if err := row.Scan(&id, &s.ExecutionARN, &s.Bucket, &files, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ID = analysis.SessionID(id)
	s.Status = analysis.ExecutionStatus(status)
	decoded, err := decodeFiles(files)
	if err != nil {
		return nil, fmt.Errorf("decode files of %s: %w", id, err)
	}
	s.Files = decoded
	return &s, nil
}
