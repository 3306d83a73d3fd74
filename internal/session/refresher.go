package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const maxResponseSize = 1 << 20 // 1MB limit for identity responses

// Refresher mints a new access token from a refresh token. Implementations
// make a single attempt; retrying is up to the caller.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

// HTTPRefresher calls the identity endpoint, authenticated by the refresh token.
type HTTPRefresher struct {
	endpoint   string
	httpClient *http.Client
}

type HTTPRefresherOptions struct {
	Endpoint   string
	HTTPClient *http.Client
}

func NewHTTPRefresher(opts HTTPRefresherOptions) (*HTTPRefresher, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("refresh endpoint is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &HTTPRefresher{
		endpoint:   opts.Endpoint,
		httpClient: opts.HTTPClient,
	}, nil
}

// Refresh posts to the identity endpoint and returns the new access token.
// Every failure matches ErrRefreshFailed; a non-2xx answer also carries an
// *oauth2.RetrieveError with the status and body.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrRefreshFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		})
	}

	var token oauth2.Token
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrRefreshFailed)
	}
	return token.AccessToken, nil
}
