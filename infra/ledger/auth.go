package ledger

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig holds the client-credential settings for gateways that require
// an access token.
type AuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
}

// Enabled reports whether gateway authentication is configured.
func (c AuthConfig) Enabled() bool { return c.TokenURL != "" }

func (c AuthConfig) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
	}
}

// clientCred caches a client-credentials token and refreshes it when it
// expires.
type clientCred struct {
	conf  clientcredentials.Config
	token *oauth2.Token
}

func newClientCred(conf AuthConfig) *clientCred {
	return &clientCred{conf: conf.toOauth2Config()}
}

// getToken returns a valid access token, requesting a new one when the
// cached token expired.
func (c *clientCred) getToken(ctx context.Context) (string, error) {
	if c.token != nil && c.token.Valid() {
		return c.token.AccessToken, nil
	}
	token, err := c.conf.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	c.token = token
	return c.token.AccessToken, nil
}

// setAuthHeader attaches the bearer token to the request when auth is
// configured.
func (c *clientCred) setAuthHeader(ctx context.Context, req *http.Request) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
