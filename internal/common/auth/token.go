// internal/common/auth/token.go
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"submission-sync/internal/common/errors"
	httpclient "submission-sync/internal/common/http"
	"submission-sync/internal/common/logger"
)

// TokenManagerConfig configures the access token manager.
type TokenManagerConfig struct {
	APIURL          string
	Email           string
	Password        string
	ApplicationName string
	Lifetime        time.Duration
	RefreshBuffer   time.Duration
	FallbackToken   string
	Timeout         time.Duration
}

// TokenCache shares fetched tokens between processes.
type TokenCache interface {
	Get(ctx context.Context) (token string, expiresAt time.Time, ok bool, err error)
	Set(ctx context.Context, token string, expiresAt time.Time) error
	Clear(ctx context.Context) error
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// TokenManager fetches access tokens from the token API and caches them
// until shortly before they expire.
type TokenManager struct {
	cfg    TokenManagerConfig
	client *httpclient.Client
	cache  TokenCache
	logger logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager. cache may be nil.
func NewTokenManager(cfg TokenManagerConfig, cache TokenCache, log logger.Logger) *TokenManager {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = time.Hour
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Password == "" {
		log.Warn("token manager has no password, fetching will fail", map[string]interface{}{
			"apiUrl": cfg.APIURL,
		})
	}
	return &TokenManager{
		cfg:    cfg,
		client: httpclient.NewClient(cfg.Timeout),
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "token-manager"}),
		now:    time.Now,
	}
}

// Token returns a valid access token, fetching a new one when the cached one
// is missing, about to expire, or forceRefresh is set.
func (m *TokenManager) Token(ctx context.Context, forceRefresh bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh {
		if m.validLocked() {
			return m.token, nil
		}
		if token, ok := m.fromSharedCache(ctx); ok {
			return token, nil
		}
	}

	token, err := m.fetch(ctx)
	if err != nil {
		m.logger.Error("failed to fetch access token", map[string]interface{}{"error": err.Error()})
		if m.cfg.FallbackToken != "" {
			m.logger.Warn("using fallback access token", nil)
			return m.cfg.FallbackToken, nil
		}
		return "", fmt.Errorf("%w: %v", errors.ErrTokenUnavailable, err)
	}

	m.token = token
	m.expiresAt = m.now().Add(m.cfg.Lifetime)
	if m.cache != nil {
		if err := m.cache.Set(ctx, token, m.expiresAt); err != nil {
			m.logger.Warn("failed to store token in shared cache", map[string]interface{}{"error": err.Error()})
		}
	}
	m.logger.Info("fetched new access token", map[string]interface{}{
		"expiresAt": m.expiresAt.Format(time.RFC3339),
	})
	return token, nil
}

func (m *TokenManager) fromSharedCache(ctx context.Context) (string, bool) {
	if m.cache == nil {
		return "", false
	}
	token, expiresAt, ok, err := m.cache.Get(ctx)
	if err != nil {
		m.logger.Warn("shared token cache read failed", map[string]interface{}{"error": err.Error()})
		return "", false
	}
	if !ok || !m.now().Before(expiresAt.Add(-m.cfg.RefreshBuffer)) {
		return "", false
	}
	m.token = token
	m.expiresAt = expiresAt
	return token, true
}

func (m *TokenManager) fetch(ctx context.Context) (string, error) {
	if m.cfg.Password == "" {
		return "", fmt.Errorf("password not configured")
	}
	var resp tokenResponse
	err := m.client.PostJSON(ctx, m.cfg.APIURL, map[string]string{
		"email":            m.cfg.Email,
		"password":         m.cfg.Password,
		"application_name": m.cfg.ApplicationName,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("response does not contain access_token")
	}
	return resp.AccessToken, nil
}

func (m *TokenManager) validLocked() bool {
	if m.token == "" || m.expiresAt.IsZero() {
		return false
	}
	return m.now().Before(m.expiresAt.Add(-m.cfg.RefreshBuffer))
}

// ClearCache forgets the cached token so the next call fetches a new one.
func (m *TokenManager) ClearCache(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
	if m.cache != nil {
		_ = m.cache.Clear(ctx)
	}
}

// TokenInfo is a diagnostic view of the token cache.
type TokenInfo struct {
	HasCachedToken     bool       `json:"has_cached_token"`
	ExpiresAt          *time.Time `json:"expires_at"`
	IsValid            bool       `json:"is_valid"`
	MinutesUntilExpiry *int       `json:"minutes_until_expiry"`
	Email              string     `json:"email"`
	ApplicationName    string     `json:"application_name"`
	APIURL             string     `json:"token_api_url"`
	LifetimeMinutes    int        `json:"token_lifetime_minutes"`
	HasPassword        bool       `json:"has_password"`
	HasFallback        bool       `json:"has_fallback"`
}

func (m *TokenManager) Info() TokenInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := TokenInfo{
		HasCachedToken:  m.token != "",
		IsValid:         m.validLocked(),
		Email:           m.cfg.Email,
		ApplicationName: m.cfg.ApplicationName,
		APIURL:          m.cfg.APIURL,
		LifetimeMinutes: int(m.cfg.Lifetime / time.Minute),
		HasPassword:     m.cfg.Password != "",
		HasFallback:     m.cfg.FallbackToken != "",
	}
	if !m.expiresAt.IsZero() {
		exp := m.expiresAt
		info.ExpiresAt = &exp
	}
	if info.IsValid {
		minutes := int(m.expiresAt.Sub(m.now()) / time.Minute)
		info.MinutesUntilExpiry = &minutes
	}
	return info
}

// StaticToken is a TokenProvider that always returns the same token. An
// empty StaticToken means the remote needs no credentials.
type StaticToken string

func (s StaticToken) Token(context.Context, bool) (string, error) {
	return string(s), nil
}
