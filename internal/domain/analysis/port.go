package analysis

import (
	"context"
	"io"
	"time"
)

// Repository port for the session history.
type Repository interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id SessionID) (*Session, error)
	Latest(ctx context.Context, limit int) ([]*Session, error)
	// UpdateStatus returns a KindNotFound error when id was never saved.
	UpdateStatus(ctx context.Context, id SessionID, status ExecutionStatus, at time.Time) error
}

// ObjectStore port for the bucket holding uploads and generated reports.
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string, maxKeys int) ([]ObjectInfo, error)
}

// Workflow port for the external orchestrator.
type Workflow interface {
	Start(ctx context.Context, name string, input []byte) (Execution, error)
	Describe(ctx context.Context, executionARN string) (Execution, error)
	// ExecutionARN derives the ARN of the execution started under name.
	ExecutionARN(name string) (string, error)
}
