package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Op performs one unit of work against the upstream API with the given access
// token. It must return an error wrapping ErrUnauthorized when the upstream
// rejects the token.
type Op func(ctx context.Context, accessToken string) error

// Caller runs operations with the stored access token and recovers from an
// expired token by refreshing it once.
//
// Concurrent calls do not share refreshes: two calls that both see a 401
// refresh independently, each at most once.
type Caller struct {
	store     *Store
	refresher Refresher
	logger    *zap.Logger
}

func NewCaller(store *Store, refresher Refresher, logger *zap.Logger) (*Caller, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if refresher == nil {
		return nil, errors.New("token refresher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{store: store, refresher: refresher, logger: logger}, nil
}

// Store returns the credential store the caller reads from.
func (c *Caller) Store() *Store {
	return c.store
}

// Do runs op. On ErrUnauthorized with a refresh token available it refreshes,
// stores the new access token and runs op exactly once more, returning that
// outcome as is. If the refresh fails the store is cleared and the error
// matches ErrSessionExpired. Any other failure is returned unchanged, and so is
// a refresh cut short by ctx.
func (c *Caller) Do(ctx context.Context, op Op) error {
	creds := c.store.Get()
	accessToken := creds.AccessToken

	for retried := false; ; retried = true {
		err := op(ctx, accessToken)
		if err == nil {
			return nil
		}
		if retried || !errors.Is(err, ErrUnauthorized) || !creds.CanRefresh() {
			return err
		}
		if accessToken, err = c.refresh(ctx, creds.RefreshToken); err != nil {
			return err
		}
	}
}

func (c *Caller) refresh(ctx context.Context, refreshToken string) (string, error) {
	c.logger.Debug("access token rejected, refreshing")
	accessToken, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Debug("refresh abandoned", zap.Error(err))
			return "", fmt.Errorf("refresh: %w", ctxErr)
		}
		cleared, purgeErr := c.store.expire(ctx, refreshToken)
		if purgeErr != nil {
			c.logger.Warn("purge expired credentials", zap.Error(purgeErr))
		}
		c.logger.Info("session expired",
			zap.Bool("store_cleared", cleared),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	updated, saveErr := c.store.replaceAccess(ctx, refreshToken, accessToken)
	if saveErr != nil {
		c.logger.Warn("persist refreshed credentials", zap.Error(saveErr))
	}
	if !updated {
		c.logger.Debug("session changed during refresh, store left untouched")
	}
	return accessToken, nil
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, c *Caller, op func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, func(ctx context.Context, accessToken string) error {
		v, err := op(ctx, accessToken)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
