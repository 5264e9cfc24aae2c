// Package memory keeps session history in process, for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[analysis.SessionID]*analysis.Session
}

var _ analysis.Repository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[analysis.SessionID]*analysis.Session)}
}

func (r *SessionRepository) Save(_ context.Context, s *analysis.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id analysis.SessionID) (*analysis.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.NotFound("Analysis session not found").With("sessionId", string(id))
	}
	return clone(s), nil
}

func (r *SessionRepository) Latest(_ context.Context, limit int) ([]*analysis.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	out := make([]*analysis.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, clone(s))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SessionRepository) UpdateStatus(_ context.Context, id analysis.SessionID, status analysis.ExecutionStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errs.NotFound("Analysis session not found").With("sessionId", string(id))
	}
	s.Status = status
	s.UpdatedAt = at
	return nil
}

// Ping always succeeds; it lets the health check treat every repository alike.
func (r *SessionRepository) Ping(context.Context) error { return nil }

func clone(s *analysis.Session) *analysis.Session {
	c := *s
	c.Files = append([]analysis.UploadedFile(nil), s.Files...)
	return &c
}
