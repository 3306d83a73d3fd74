package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"signaldesk/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair and stores it. It runs outside
// the refresh protocol since there is no session yet.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var token oauth2.Token
	err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password}, &token)
	if errors.Is(err, session.ErrUnauthorized) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if token.AccessToken == "" {
		return errors.New("login response missing access_token")
	}

	pair := session.Pair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if err := c.caller.Store().Set(ctx, pair); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	c.logger.Info("logged in", zap.String("email", email), zap.Bool("refreshable", pair.CanRefresh()))
	return nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", req, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Logout forgets the session locally; the stored pair is purged too.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.caller.Store().Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	return call[Profile](ctx, c, http.MethodGet, "/users/me", nil)
}
