package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
)

type script struct {
	steps []step
	calls int
}

type step struct {
	status *appanalysis.StatusResult
	err    error
}

func (s *script) fetch(context.Context) (*appanalysis.StatusResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].status, s.steps[i].err
}

func running(progress int) step {
	return step{status: &appanalysis.StatusResult{Status: "RUNNING", PhaseProgress: progress}}
}

func failure() step { return step{err: errors.New("connection refused")} }

// recordSleeps returns a Sleep hook that records intervals instead of waiting.
func recordSleeps(into *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*into = append(*into, d)
		return ctx.Err()
	}
}

func TestTrackerCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := &appanalysis.StatusResult{Status: "SUCCEEDED", IsComplete: true, PhaseProgress: 100}
	s := &script{steps: []step{running(10), running(50), running(80), running(90), {status: done}}}

	var (
		sleeps  []time.Duration
		updates int
	)
	tr := &Tracker{
		Fetch:    s.fetch,
		Sleep:    recordSleeps(&sleeps),
		OnUpdate: func(*appanalysis.StatusResult) { updates++ },
	}
	st, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, done, st)
	assert.Equal(t, 5, updates)
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		4400 * time.Millisecond,
		4840 * time.Millisecond,
	}, sleeps, "no sleep is scheduled after completion")
}

func TestTrackerAnalysisError(t *testing.T) {
	failed := &appanalysis.StatusResult{Status: "FAILED", HasError: true, ErrorMessage: "Lambda timed out"}
	s := &script{steps: []step{running(5), {status: failed}}}

	var sleeps []time.Duration
	_, err := (&Tracker{Fetch: s.fetch, Sleep: recordSleeps(&sleeps)}).Run(context.Background())

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Lambda timed out", ae.Error())
	assert.Len(t, sleeps, 1)

	assert.Equal(t, "Analysis failed", (&AnalysisError{Status: &appanalysis.StatusResult{HasError: true}}).Error())
}

func TestTrackerConsecutiveErrors(t *testing.T) {
	s := &script{steps: []step{running(5), failure(), failure(), running(5), failure(), failure(), failure()}}

	var (
		sleeps []time.Duration
		seen   []int
	)
	tr := &Tracker{
		Fetch:   s.fetch,
		Sleep:   recordSleeps(&sleeps),
		OnError: func(_ error, n int) { seen = append(seen, n) },
	}
	_, err := tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrStatusUnavailable)
	assert.Equal(t, 7, s.calls, "a success resets the error budget")
	assert.Equal(t, []int{1, 2, 1, 2, 3}, seen)
	assert.Len(t, sleeps, 6)
}

func TestTrackerAttemptCeiling(t *testing.T) {
	t.Run("still running", func(t *testing.T) {
		s := &script{steps: []step{running(10)}}
		var sleeps []time.Duration
		_, err := (&Tracker{Fetch: s.fetch, Sleep: recordSleeps(&sleeps), MaxAttempts: 5}).Run(context.Background())
		assert.ErrorIs(t, err, ErrTookTooLong)
		assert.Equal(t, 5, s.calls)
		assert.Len(t, sleeps, 4)
	})

	t.Run("last attempt fails", func(t *testing.T) {
		s := &script{steps: []step{running(10), running(10), failure()}}
		var sleeps []time.Duration
		_, err := (&Tracker{Fetch: s.fetch, Sleep: recordSleeps(&sleeps), MaxAttempts: 3}).Run(context.Background())
		assert.EqualError(t, err, "connection refused")
		assert.Len(t, sleeps, 2)
	})
}

func TestTrackerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := &script{steps: []step{running(10)}}
	var sleeps []time.Duration
	tr := &Tracker{
		Fetch: func(ctx context.Context) (*appanalysis.StatusResult, error) {
			if s.calls == 2 {
				cancel()
			}
			return s.fetch(ctx)
		},
		Sleep: recordSleeps(&sleeps),
	}

	_, err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, s.calls)
}

func TestTrackerCancelDuringWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s := &script{steps: []step{running(10)}}

	start := time.Now()
	_, err := (&Tracker{Fetch: s.fetch}).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "the 2s wait is abandoned on cancel")
	assert.Equal(t, 1, s.calls)
}

func TestNextInterval(t *testing.T) {
	max := 15 * time.Second
	assert.Equal(t, 2*time.Second, NextInterval(10*time.Second, max, 29))
	assert.Equal(t, 4*time.Second, NextInterval(10*time.Second, max, 30))
	assert.Equal(t, 4*time.Second, NextInterval(2*time.Second, max, 69))
	assert.Equal(t, 11*time.Second, NextInterval(10*time.Second, max, 70))
	assert.Equal(t, max, NextInterval(14*time.Second, max, 95))
}
