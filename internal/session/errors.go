package session

import "errors"

var (
	// ErrUnauthorized marks an upstream rejection of the access token. Transports
	// wrap it when they see HTTP 401; it is the only outcome that triggers a refresh.
	ErrUnauthorized = errors.New("access token rejected")

	// ErrRefreshFailed is returned by refreshers when the identity endpoint rejects
	// the refresh token, is unreachable or answers with an unusable body.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrSessionExpired is returned by Caller after a failed refresh. The store has
	// been cleared by then and the user has to log in again.
	ErrSessionExpired = errors.New("session expired: log in again")
)
