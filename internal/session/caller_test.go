package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRefresher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, refreshToken string) (string, error)
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	r.calls.Add(1)
	return r.fn(ctx, refreshToken)
}

func refreshTo(access string) *countingRefresher {
	return &countingRefresher{fn: func(context.Context, string) (string, error) {
		return access, nil
	}}
}

func failingRefresher() *countingRefresher {
	return &countingRefresher{fn: func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: identity endpoint said no", ErrRefreshFailed)
	}}
}

func newTestCaller(t *testing.T, pair Pair, refresher Refresher) (*Caller, *Store, *MemorySlot) {
	t.Helper()
	ctx := context.Background()
	slot := NewMemorySlot()
	store, err := NewStore(ctx, StoreOptions{Slot: slot, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, pair))

	caller, err := NewCaller(store, refresher, zap.NewNop())
	require.NoError(t, err)
	return caller, store, slot
}

type recordingOp struct {
	mu     sync.Mutex
	tokens []string
	fn     func(token string) error
}

func (o *recordingOp) run(_ context.Context, token string) error {
	o.mu.Lock()
	o.tokens = append(o.tokens, token)
	o.mu.Unlock()
	return o.fn(token)
}

func unauthorizedFor(rejected string) *recordingOp {
	return &recordingOp{fn: func(token string) error {
		if token == rejected {
			return fmt.Errorf("GET /users/me: %w", ErrUnauthorized)
		}
		return nil
	}}
}

func TestCallerRefreshesOnceAndRetries(t *testing.T) {
	refresher := refreshTo("A2")
	caller, store, slot := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	op := unauthorizedFor("A1")

	err := caller.Do(context.Background(), op.run)

	require.NoError(t, err)
	require.Equal(t, []string{"A1", "A2"}, op.tokens)
	require.EqualValues(t, 1, refresher.calls.Load())
	require.Equal(t, Pair{AccessToken: "A2", RefreshToken: "R1"}, store.Get())

	persisted, err := slot.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Pair{AccessToken: "A2", RefreshToken: "R1"}, persisted)
}

func TestCallerWithoutRefreshTokenReturnsOriginalError(t *testing.T) {
	refresher := refreshTo("A2")
	caller, store, _ := newTestCaller(t, Pair{AccessToken: "A1"}, refresher)
	op := unauthorizedFor("A1")

	err := caller.Do(context.Background(), op.run)

	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, []string{"A1"}, op.tokens)
	require.Zero(t, refresher.calls.Load())
	require.Equal(t, Pair{AccessToken: "A1"}, store.Get())
}

func TestCallerDoesNotRefreshTwice(t *testing.T) {
	refresher := refreshTo("A2")
	caller, store, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)

	second := fmt.Errorf("second attempt: %w", ErrUnauthorized)
	op := &recordingOp{fn: func(token string) error {
		if token == "A2" {
			return second
		}
		return fmt.Errorf("first attempt: %w", ErrUnauthorized)
	}}

	err := caller.Do(context.Background(), op.run)

	require.Same(t, second, err)
	require.Equal(t, []string{"A1", "A2"}, op.tokens)
	require.EqualValues(t, 1, refresher.calls.Load())
	require.Equal(t, Pair{AccessToken: "A2", RefreshToken: "R1"}, store.Get())
}

func TestCallerRefreshFailureExpiresSession(t *testing.T) {
	refresher := failingRefresher()
	caller, store, slot := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	op := unauthorizedFor("A1")

	var notified []Pair
	store.OnChange(func(p Pair) { notified = append(notified, p) })

	err := caller.Do(context.Background(), op.run)

	require.ErrorIs(t, err, ErrSessionExpired)
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.Equal(t, []string{"A1"}, op.tokens)
	require.Equal(t, Pair{}, store.Get())
	require.False(t, slot.Stored())
	require.Equal(t, []Pair{{}}, notified)
}

func TestCallerPassesThroughOtherFailures(t *testing.T) {
	refresher := refreshTo("A2")
	caller, store, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)

	boom := errors.New("validation failed")
	op := &recordingOp{fn: func(string) error { return boom }}

	err := caller.Do(context.Background(), op.run)

	require.Same(t, boom, err)
	require.Equal(t, []string{"A1"}, op.tokens)
	require.Zero(t, refresher.calls.Load())
	require.Equal(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, store.Get())
}

func TestCallerPassesThroughContextCancellation(t *testing.T) {
	refresher := refreshTo("A2")
	caller, _, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := caller.Do(ctx, func(ctx context.Context, _ string) error { return ctx.Err() })

	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, refresher.calls.Load())
}

func TestCallerKeepsSessionWhenRefreshIsCutShort(t *testing.T) {
	refresher := &countingRefresher{fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	}}
	caller, store, slot := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	op := unauthorizedFor("A1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := caller.Do(ctx, op.run)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, []string{"A1"}, op.tokens)
	require.Equal(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, store.Get())
	require.True(t, slot.Stored())
}

func TestCallerSuccessNeedsNoRefresh(t *testing.T) {
	refresher := refreshTo("A2")
	caller, _, slot := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	op := unauthorizedFor("nobody")
	saves := slot.Saves()

	require.NoError(t, caller.Do(context.Background(), op.run))
	require.Equal(t, []string{"A1"}, op.tokens)
	require.Zero(t, refresher.calls.Load())
	require.Equal(t, saves, slot.Saves())
}

func TestCallRetriesAndReturnsValue(t *testing.T) {
	caller, _, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refreshTo("A2"))

	got, err := Call(context.Background(), caller, func(_ context.Context, token string) (string, error) {
		if token == "A1" {
			return "", ErrUnauthorized
		}
		return "profile for " + token, nil
	})

	require.NoError(t, err)
	require.Equal(t, "profile for A2", got)
}

func TestCallReturnsZeroValueOnFailure(t *testing.T) {
	caller, _, _ := newTestCaller(t, Pair{AccessToken: "A1"}, refreshTo("A2"))

	got, err := Call(context.Background(), caller, func(context.Context, string) (int, error) {
		return 42, ErrUnauthorized
	})

	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, got)
}

func TestCallerKeepsSessionStartedDuringRefresh(t *testing.T) {
	ctx := context.Background()
	var store *Store
	refresher := &countingRefresher{fn: func(ctx context.Context, _ string) (string, error) {
		// The user logs in again while the refresh is in flight.
		require.NoError(t, store.Set(ctx, Pair{AccessToken: "B1", RefreshToken: "R2"}))
		return "A2", nil
	}}
	caller, s, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	store = s
	op := unauthorizedFor("A1")

	require.NoError(t, caller.Do(ctx, op.run))
	require.Equal(t, []string{"A1", "A2"}, op.tokens)
	require.Equal(t, Pair{AccessToken: "B1", RefreshToken: "R2"}, store.Get())
}

func TestCallerRefreshFailureKeepsNewerSession(t *testing.T) {
	ctx := context.Background()
	var store *Store
	refresher := &countingRefresher{fn: func(ctx context.Context, _ string) (string, error) {
		require.NoError(t, store.Set(ctx, Pair{AccessToken: "B1", RefreshToken: "R2"}))
		return "", ErrRefreshFailed
	}}
	caller, s, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)
	store = s

	err := caller.Do(ctx, unauthorizedFor("A1").run)

	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, Pair{AccessToken: "B1", RefreshToken: "R2"}, store.Get())
}

func TestConcurrentCallsRefreshIndependently(t *testing.T) {
	refresher := refreshTo("A2")
	caller, store, _ := newTestCaller(t, Pair{AccessToken: "A1", RefreshToken: "R1"}, refresher)

	var arrived sync.WaitGroup
	arrived.Add(2)
	op := func(_ context.Context, token string) error {
		if token == "A1" {
			arrived.Done()
			arrived.Wait()
			return ErrUnauthorized
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = caller.Do(context.Background(), op)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, refresher.calls.Load())
	require.Equal(t, Pair{AccessToken: "A2", RefreshToken: "R1"}, store.Get())
}

func TestNewCallerValidatesDependencies(t *testing.T) {
	store, err := NewStore(context.Background(), StoreOptions{Slot: NewMemorySlot()})
	require.NoError(t, err)

	_, err = NewCaller(nil, refreshTo("x"), nil)
	require.Error(t, err)
	_, err = NewCaller(store, nil, nil)
	require.Error(t, err)
}
