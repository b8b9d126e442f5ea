package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"panplay/internal"
	"panplay/metrics"
)

const (
	// DefaultTokenLifetime is assumed when the refresh response carries no expires_in
	DefaultTokenLifetime = 2592000 * time.Second
	// TokenExpiryMargin is subtracted from the upstream lifetime so a token is
	// renewed before the provider stops accepting it
	TokenExpiryMargin = 300 * time.Second
)

// TokenConfig describes the refresh material for one credential
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// TokenManager holds one refresh credential and the access token minted from
// it. Safe for concurrent use; concurrent refreshes are collapsed into one.
type TokenManager struct {
	mutex        sync.RWMutex
	token        internal.AccessToken
	refreshToken string

	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	now          func() time.Time
	group        singleflight.Group
}

// NewTokenManager creates a manager with no access token yet
func NewTokenManager(config TokenConfig) *TokenManager {
	m := &TokenManager{
		refreshToken: config.RefreshToken,
		clientID:     config.ClientID,
		clientSecret: config.ClientSecret,
		tokenURL:     config.TokenURL,
		httpClient:   config.HTTPClient,
		now:          config.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.httpClient == nil {
		m.httpClient = http.DefaultClient
	}
	return m
}

// GetValidToken returns the current access token if it has not expired,
// otherwise refreshes it.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	m.mutex.RLock()
	token := m.token
	m.mutex.RUnlock()

	if token.Value != "" && m.now().Before(token.ExpiresAt) {
		return token.Value, nil
	}

	return m.Refresh(ctx)
}

// Current returns a snapshot of the held access token
func (m *TokenManager) Current() internal.AccessToken {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.token
}

// Refresh exchanges the refresh credential for a new access token. On failure
// the previously held token and expiry are left untouched.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mutex.RLock()
	refreshToken := m.refreshToken
	m.mutex.RUnlock()

	if refreshToken == "" || m.clientID == "" {
		metrics.TokenRefreshTotal.WithLabelValues("unavailable").Inc()
		return "", internal.NewPanError(0, "no refresh credential configured", internal.ErrTokenUnavailable).
			WithStage(internal.StageToken)
	}

	v, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx, refreshToken)
	})
	if shared {
		internal.LogDebug("token refresh shared with a concurrent caller")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) refresh(ctx context.Context, refreshToken string) (string, error) {
	config := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	issuedAt := m.now()

	tok, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failed").Inc()
		perr := internal.NewPanError(0, "access token refresh failed", internal.ErrTokenRefreshFailed).
			WithStage(internal.StageToken).
			WithCause(err)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			perr.WithContext("status", retrieveErr.Response.StatusCode)
		}
		internal.LogWarn("access token refresh failed: %s", perr.DetailedError())
		return "", perr
	}

	lifetime := tokenLifetime(tok, issuedAt)

	m.mutex.Lock()
	m.token = internal.AccessToken{
		Value:     tok.AccessToken,
		ExpiresAt: issuedAt.Add(lifetime - TokenExpiryMargin),
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		m.refreshToken = tok.RefreshToken
	}
	m.mutex.Unlock()

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	internal.LogInfo("access token refreshed, valid for %s", (lifetime - TokenExpiryMargin).Round(time.Second))
	return tok.AccessToken, nil
}

// tokenLifetime reads expires_in from the raw response, falling back to the
// library-computed expiry and then to DefaultTokenLifetime.
func tokenLifetime(tok *oauth2.Token, issuedAt time.Time) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}

	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(issuedAt); d > 0 {
			return d
		}
	}
	return DefaultTokenLifetime
}

// TokenRegistry keeps one TokenManager per refresh credential so that
// requests carrying the same refresh token share its access token.
type TokenRegistry struct {
	managers   cmap.ConcurrentMap[string, *TokenManager]
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
}

// NewTokenRegistry creates an empty registry
func NewTokenRegistry(tokenURL string, httpClient *http.Client) *TokenRegistry {
	return &TokenRegistry{
		managers:   cmap.New[*TokenManager](),
		tokenURL:   tokenURL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// For returns the manager for cred, creating it on first use. Credentials
// without refresh material get nil.
func (r *TokenRegistry) For(cred *internal.Credential) *TokenManager {
	if cred == nil || !cred.HasRefresh() {
		return nil
	}

	key := registryKey(cred)
	return r.managers.Upsert(key, nil, func(exists bool, current, _ *TokenManager) *TokenManager {
		if exists {
			return current
		}
		return NewTokenManager(TokenConfig{
			TokenURL:     r.tokenURL,
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			RefreshToken: cred.RefreshToken,
			HTTPClient:   r.httpClient,
			Now:          r.now,
		})
	})
}

// Provider returns the token source for cred, or nil when cred carries no
// refresh material
func (r *TokenRegistry) Provider(cred *internal.Credential) internal.TokenProvider {
	if manager := r.For(cred); manager != nil {
		return manager
	}
	return nil
}

// Len returns the number of registered managers
func (r *TokenRegistry) Len() int {
	return r.managers.Count()
}

func registryKey(cred *internal.Credential) string {
	sum := sha256.Sum256([]byte(cred.ClientID + "\x00" + cred.RefreshToken))
	return hex.EncodeToString(sum[:])
}
