package client

import (
	"context"
	"errors"
	"math"
	"time"

	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
)

const (
	DefaultInitialInterval      = 2 * time.Second
	DefaultMaxInterval          = 15 * time.Second
	DefaultMaxAttempts          = 180
	DefaultMaxConsecutiveErrors = 3
)

var (
	ErrTookTooLong       = errors.New("Analysis is taking longer than expected. Please check back later.")
	ErrStatusUnavailable = errors.New("Unable to check analysis status. Please refresh the page.")
)

// AnalysisError is a workflow that finished without a report.
type AnalysisError struct {
	Status *appanalysis.StatusResult
}

func (e *AnalysisError) Error() string {
	if e.Status != nil && e.Status.ErrorMessage != "" {
		return e.Status.ErrorMessage
	}
	return "Analysis failed"
}

// StatusFunc fetches one status snapshot.
type StatusFunc func(ctx context.Context) (*appanalysis.StatusResult, error)

// Tracker polls a status source until the analysis completes, fails or the
// attempt or error budget runs out. Zero fields take the Default values.
type Tracker struct {
	Fetch StatusFunc

	InitialInterval      time.Duration
	MaxInterval          time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int

	// OnUpdate receives every successful snapshot.
	OnUpdate func(*appanalysis.StatusResult)
	// OnError receives every failed fetch.
	OnError func(err error, consecutive int)

	// Sleep waits d or until ctx is done; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker follows a session through c.
func NewTracker(c *Client, sessionID, executionARN string) *Tracker {
	return &Tracker{
		Fetch: func(ctx context.Context) (*appanalysis.StatusResult, error) {
			return c.Status(ctx, sessionID, executionARN)
		},
	}
}

// Run polls until a terminal outcome. It returns the completed status, an *AnalysisError,
// ErrTookTooLong, ErrStatusUnavailable, the last fetch error once the attempt budget is
// spent, or ctx.Err().
func (t *Tracker) Run(ctx context.Context) (*appanalysis.StatusResult, error) {
	var (
		interval    = orDuration(t.InitialInterval, DefaultInitialInterval)
		maxInterval = orDuration(t.MaxInterval, DefaultMaxInterval)
		maxAttempts = orInt(t.MaxAttempts, DefaultMaxAttempts)
		maxErrors   = orInt(t.MaxConsecutiveErrors, DefaultMaxConsecutiveErrors)
		sleep       = t.Sleep
		attempts    int
		consecutive int
	)
	if sleep == nil {
		sleep = sleepCtx
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st, err := t.Fetch(ctx)
		attempts++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			consecutive++
			if t.OnError != nil {
				t.OnError(err, consecutive)
			}
			if consecutive >= maxErrors {
				return nil, ErrStatusUnavailable
			}
			if attempts >= maxAttempts {
				return nil, err
			}
		} else {
			consecutive = 0
			if t.OnUpdate != nil {
				t.OnUpdate(st)
			}
			switch {
			case st.IsComplete:
				return st, nil
			case st.HasError:
				return nil, &AnalysisError{Status: st}
			case attempts >= maxAttempts:
				return nil, ErrTookTooLong
			}
			interval = NextInterval(interval, maxInterval, st.PhaseProgress)
		}

		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// NextInterval picks the wait before the next poll from the current progress:
// early phases poll fast, late phases back off by 10% up to max.
func NextInterval(current, max time.Duration, progress int) time.Duration {
	switch {
	case progress < 30:
		return 2 * time.Second
	case progress < 70:
		return 4 * time.Second
	default:
		next := time.Duration(math.Round(float64(current) * 1.1))
		if next > max {
			return max
		}
		return next
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
