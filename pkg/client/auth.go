package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/storefront-client/pkg/secrets"
)

// LoginPath is the token endpoint.
const LoginPath = "/api/v1/auth/login/"

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Tokens is the session issued by the backend.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges phone and password for a session and stores its tokens.
func (c *Client) Login(ctx context.Context, phone, password string) error {
	if phone == "" || password == "" {
		return fmt.Errorf("login: phone and password are required")
	}

	var tokens Tokens
	if err := c.postJSON(ctx, LoginPath, loginRequest{Phone: phone, Password: password}, &tokens); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if tokens.Access == "" {
		return fmt.Errorf("login: response carried no access token")
	}

	if err := c.secrets.Set(ctx, secrets.KeyAccessToken, tokens.Access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if tokens.Refresh != "" {
		if err := c.secrets.Set(ctx, secrets.KeyRefreshToken, tokens.Refresh); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}

	c.logger.Info().Msg("Session started")
	return nil
}

// Logout forgets the stored session and the pages cached for it.
// It does not fail when there is no session.
func (c *Client) Logout(ctx context.Context) error {
	if principal := c.principal(ctx); principal != "" {
		n, err := c.cache.ForgetPrincipal(ctx, principal)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to drop cached pages of the session")
		} else if n > 0 {
			c.logger.Debug().Int("keys", n).Msg("Dropped cached pages of the session")
		}
	}

	for _, key := range []string{secrets.KeyAccessToken, secrets.KeyRefreshToken} {
		if err := c.secrets.Delete(ctx, key); err != nil && !errors.Is(err, secrets.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	c.logger.Info().Msg("Session ended")
	return nil
}

// Authenticated reports whether an access token is stored.
func (c *Client) Authenticated(ctx context.Context) bool {
	return c.requireSession(ctx) == nil
}

func (c *Client) requireSession(ctx context.Context) error {
	_, err := c.secrets.Get(ctx, secrets.KeyAccessToken)
	if errors.Is(err, secrets.ErrNotFound) {
		return ErrNotAuthenticated
	}
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}
	return nil
}
