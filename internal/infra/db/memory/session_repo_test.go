package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	base := time.Date(2025, 9, 8, 15, 0, 0, 0, time.UTC)

	for i, id := range []analysis.SessionID{"a", "b", "c"} {
		require.NoError(t, repo.Save(ctx, &analysis.Session{
			ID:        id,
			Status:    analysis.StatusRunning,
			Files:     []analysis.UploadedFile{{Name: "x.pdf", Index: 0}},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusRunning, got.Status)

	got.Files[0].Name = "mutated.pdf"
	again, _ := repo.Get(ctx, "b")
	assert.Equal(t, "x.pdf", again.Files[0].Name, "callers must not alias stored sessions")

	latest, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, analysis.SessionID("c"), latest[0].ID)
	assert.Equal(t, analysis.SessionID("b"), latest[1].ID)

	done := base.Add(time.Hour)
	require.NoError(t, repo.UpdateStatus(ctx, "a", analysis.StatusSucceeded, done))
	a, _ := repo.Get(ctx, "a")
	assert.Equal(t, analysis.StatusSucceeded, a.Status)
	assert.Equal(t, done, a.UpdatedAt)

	_, err = repo.Get(ctx, "zzz")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.True(t, errs.Is(repo.UpdateStatus(ctx, "zzz", analysis.StatusFailed, done), errs.KindNotFound))
}
