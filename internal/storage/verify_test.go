package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// Test Plan for verification:
// - A check that keeps failing stops after MaxAttempts with ErrVerificationFailed
// - A check that succeeds late stops retrying
// - A store error that is not transient is not retried
// - Cancellation ends the loop with the context error
// - Verify confirms visible and hidden ids and fails on missing ones

func fastPolicy(attempts int) VerifyPolicy {
	return VerifyPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry_Bounded(t *testing.T) {
	t.Parallel()

	calls := 0
	start := time.Now()
	attempts, err := Retry(context.Background(), fastPolicy(4), func(context.Context) error {
		calls++
		return errors.New("not yet")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "not yet")
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, attempts)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("eventual consistency")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := VerifyPolicy{MaxAttempts: 1000, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	calls := 0
	_, err := Retry(ctx, policy, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 1000)
}

func TestRetry_PermanentStoreError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return &vectorstore.VectorDatabaseError{Op: "get", Err: vectorstore.ErrCollectionNotFound}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	assert.Equal(t, 1, calls)
}

func TestVerifyPolicy_Defaults(t *testing.T) {
	t.Parallel()

	var p VerifyPolicy
	p.ApplyDefaults()
	assert.Equal(t, DefaultVerifyPolicy(), p)
}

func TestIndex_Verify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	v1 := fileOf("a.go", "func V1() {}")
	v2 := fileOf("a.go", "func V2() {}")
	_, err := idx.IndexFile(ctx, "main", v1, []string{"main"})
	require.NoError(t, err)
	res, err := idx.IndexFile(ctx, "main", v2, []string{"main"})
	require.NoError(t, err)

	err = idx.Verify(ctx, Expectation{Branch: "main", Visible: res.IDs, Hidden: res.HiddenIDs}, fastPolicy(3))
	require.NoError(t, err)

	err = idx.Verify(ctx, Expectation{Branch: "main", Visible: res.HiddenIDs}, fastPolicy(3))
	assert.ErrorIs(t, err, ErrVerificationFailed)

	err = idx.Verify(ctx, Expectation{Branch: "main", Visible: []string{ContentID("nope.go", 0, "x")}}, fastPolicy(2))
	assert.ErrorIs(t, err, ErrVerificationFailed)

	assert.NoError(t, idx.Verify(ctx, Expectation{Branch: "main"}, fastPolicy(1)))
}
