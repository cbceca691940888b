package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth endpoint used for the client-credentials exchange.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenError reports a non-success response from the token endpoint.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("twitch token request failed: status %d: %s", e.StatusCode, e.Body)
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// It does not track expiry: a token is considered valid until a Helix call
// answers 401, at which point the caller asks for a new one with Acquire.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	mu    sync.RWMutex
	token string
}

// Token returns the cached token, or "" when none has been acquired yet.
func (ts *TokenSource) Token() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token
}

// SetToken seeds the cache. Used at startup from a known token and in tests.
func (ts *TokenSource) SetToken(tok string) {
	ts.mu.Lock()
	ts.token = tok
	ts.mu.Unlock()
}

// Acquire performs a client-credentials exchange and stores the result.
// Concurrent callers each run their own exchange; the last one to finish wins,
// which is fine because every exchange yields an equally valid token.
// A failed exchange leaves the previously cached token untouched.
func (ts *TokenSource) Acquire(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return "", &TokenError{StatusCode: status, Body: string(re.Body)}
		}
		return "", fmt.Errorf("twitch token request: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.SetToken(tok.AccessToken)
	return tok.AccessToken, nil
}
