package analysis

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/user/folio/pkg/llm"
)

// errMalformedReply marks a model reply that held no usable concept list.
// Asking again usually yields a well-formed one.
var errMalformedReply = errors.New("malformed concept reply")

// RetryPolicy decides how often a concept extraction is re-attempted and
// how long to back off between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy: 3 attempts, 2s then 4s, capped at 20s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     20 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && Retryable(err)
}

// Retryable classifies an extraction failure. Provider rate limits, server
// errors, network timeouts and malformed replies are transient. Client-side
// API errors, an empty session and cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, errNothingToAnalyze):
		return false
	case errors.Is(err, errMalformedReply):
		return true
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	// Transport failures: refused or reset connections, read timeouts.
	return true
}

// NextDelay is the wait after the given failed attempt.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Execute calls fn until it succeeds, fails permanently or runs out of
// attempts, and returns the last error. A done ctx ends the wait early.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}

		t := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return err
		}
	}
}
