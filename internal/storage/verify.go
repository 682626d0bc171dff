package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// ErrVerificationFailed is returned when writes are still not observable
// after the last verification attempt.
var ErrVerificationFailed = errors.New("index verification failed")

// VerifyPolicy bounds verification retries.
type VerifyPolicy struct {
	// MaxAttempts is the total number of checks, including the first.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the wait before the second check.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait.
	// Default: 5s
	MaxBackoff time.Duration
}

// DefaultVerifyPolicy returns the default verification policy.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *VerifyPolicy) ApplyDefaults() {
	d := DefaultVerifyPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
}

// Retry runs check until it succeeds, MaxAttempts is reached or ctx is done.
// Exhausting the attempts yields ErrVerificationFailed wrapping the last
// check error. A store error that is not transient stops at once. It always
// terminates.
func Retry(ctx context.Context, policy VerifyPolicy, check func(ctx context.Context) error) (int, error) {
	policy.ApplyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxInterval = policy.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := check(ctx)
		var vde *vectorstore.VectorDatabaseError
		if errors.As(err, &vde) && !vectorstore.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, ctxErr
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrVerificationFailed, attempts, err)
}

// Expectation lists the visibility a branch sync must have produced.
type Expectation struct {
	Branch  string
	Visible []string
	Hidden  []string
}

// Empty reports whether there is nothing to check.
func (e Expectation) Empty() bool {
	return len(e.Visible) == 0 && len(e.Hidden) == 0
}

// Verify re-reads the expected ids until the store reflects every write or
// the policy is exhausted.
func (idx *Index) Verify(ctx context.Context, exp Expectation, policy VerifyPolicy) error {
	if exp.Empty() {
		return nil
	}
	ids := append(append([]string(nil), exp.Visible...), exp.Hidden...)

	attempts, err := Retry(ctx, policy, func(ctx context.Context) error {
		recs, err := idx.getRecords(ctx, ids)
		if err != nil {
			return err
		}
		var problems []error
		for _, id := range exp.Visible {
			rec, ok := recs[id]
			switch {
			case !ok:
				problems = append(problems, fmt.Errorf("content %s missing", id))
			case !rec.VisibleOn(exp.Branch):
				problems = append(problems, fmt.Errorf("content %s still hidden on %s", id, exp.Branch))
			}
		}
		for _, id := range exp.Hidden {
			if rec, ok := recs[id]; ok && rec.VisibleOn(exp.Branch) {
				problems = append(problems, fmt.Errorf("content %s still visible on %s", id, exp.Branch))
			}
		}
		return errors.Join(problems...)
	})
	if err != nil {
		idx.logger.Warn(ctx, "verification failed",
			zap.String("branch", exp.Branch), zap.Int("attempts", attempts), zap.Error(err))
		return err
	}
	idx.logger.Debug(ctx, "verified branch writes",
		zap.String("branch", exp.Branch),
		zap.Int("visible", len(exp.Visible)),
		zap.Int("hidden", len(exp.Hidden)),
		zap.Int("attempts", attempts))
	return nil
}
