// Package retry wraps external stage calls in a bounded retry policy: one
// original attempt plus one retry after a fixed backoff. Every failed attempt
// is reported to the failure log. Permanent errors skip the retry.
package retry

import (
	"context"
	"time"

	"github.com/sunzc-sunny/RDAnnotator/internal/faillog"
	"github.com/sunzc-sunny/RDAnnotator/internal/metrics"
)

const (
	// DefaultMaxAttempts is one original call plus one retry.
	DefaultMaxAttempts = 2
	// DefaultBackoff is the fixed wait before the retry.
	DefaultBackoff = 60 * time.Second
)

// Sleeper waits for d or until ctx is done. Tests replace it to avoid real waits.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is a fixed-backoff, bounded-attempt retry policy.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Sleep       Sleeper
	Recorder    *faillog.Recorder
	RunID       string
}

// Default returns the 2-attempt, 60 second policy.
func Default(recorder *faillog.Recorder) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		Recorder:    recorder,
	}
}

// Do runs fn under the policy. On exhaustion or a permanent failure the last
// error is returned tagged as *Error.
func (p Policy) Do(ctx context.Context, item, stage string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, item, stage, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, item, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		kind := Classify(err)
		final := kind == KindPermanent || attempt >= maxAttempts
		p.record(ctx, faillog.Failure{
			RunID:   p.RunID,
			Item:    item,
			Stage:   stage,
			Attempt: attempt,
			Final:   final,
			Kind:    kind.String(),
			Message: err.Error(),
		})

		if final {
			return zero, &Error{Kind: kind, Stage: stage, Item: item, Err: err}
		}

		metrics.New(metrics.Namespace).
			Dimension("Stage", stage).
			Count("StageRetries").
			Flush()

		if err := sleep(ctx, p.Backoff); err != nil {
			return zero, &Error{Kind: KindPermanent, Stage: stage, Item: item, Err: err}
		}
	}
}

func (p Policy) record(ctx context.Context, f faillog.Failure) {
	if p.Recorder == nil {
		return
	}
	f.Time = time.Now().UTC()
	p.Recorder.Record(ctx, f)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
