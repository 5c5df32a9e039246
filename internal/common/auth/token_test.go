package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, calls *int32, status int, token string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bot@example.com", body["email"])
		assert.Equal(t, "secret", body["password"])
		assert.Equal(t, "intake", body["application_name"])

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	}))
}

func testConfig(url string) TokenManagerConfig {
	return TokenManagerConfig{
		APIURL:          url,
		Email:           "bot@example.com",
		Password:        "secret",
		ApplicationName: "intake",
		Lifetime:        time.Hour,
		RefreshBuffer:   5 * time.Minute,
	}
}

func TestTokenManager_CachesUntilBuffer(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK, "tok-1")
	defer srv.Close()

	m := NewTokenManager(testConfig(srv.URL), nil, logger.NewTestLogger(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	token, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	now = now.Add(50 * time.Minute)
	_, err = m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Inside the refresh buffer the token is refetched.
	now = now.Add(6 * time.Minute)
	_, err = m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK, "tok")
	defer srv.Close()

	m := NewTokenManager(testConfig(srv.URL), nil, logger.NewNoOpLogger())
	_, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	_, err = m.Token(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenManager_FailureWithoutFallback(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusInternalServerError, "")
	defer srv.Close()

	m := NewTokenManager(testConfig(srv.URL), nil, logger.NewNoOpLogger())
	_, err := m.Token(context.Background(), false)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTokenUnavailable))
	assert.Equal(t, errors.ErrCodeTokenUnavailable, errors.Classify(err))
}

func TestTokenManager_FallbackToken(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusUnauthorized, "")
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.FallbackToken = "static-token"
	m := NewTokenManager(cfg, nil, logger.NewNoOpLogger())

	token, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "static-token", token)
	assert.False(t, m.Info().HasCachedToken)
}

func TestTokenManager_MissingPassword(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Password = ""
	m := NewTokenManager(cfg, nil, logger.NewNoOpLogger())

	_, err := m.Token(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password not configured")
}

func TestTokenManager_SharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisTokenCache(client, "")

	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK, "shared-tok")
	defer srv.Close()

	first := NewTokenManager(testConfig(srv.URL), cache, logger.NewNoOpLogger())
	_, err := first.Token(context.Background(), false)
	require.NoError(t, err)

	second := NewTokenManager(testConfig(srv.URL), cache, logger.NewNoOpLogger())
	token, err := second.Token(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "shared-tok", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, mr.Exists(defaultTokenCacheKey))
}

func TestTokenManager_InfoAndClear(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK, "tok")
	defer srv.Close()

	m := NewTokenManager(testConfig(srv.URL), nil, logger.NewNoOpLogger())
	info := m.Info()
	assert.False(t, info.HasCachedToken)
	assert.Nil(t, info.ExpiresAt)
	assert.True(t, info.HasPassword)
	assert.Equal(t, 60, info.LifetimeMinutes)

	_, err := m.Token(context.Background(), false)
	require.NoError(t, err)
	info = m.Info()
	assert.True(t, info.IsValid)
	require.NotNil(t, info.MinutesUntilExpiry)
	assert.InDelta(t, 59, *info.MinutesUntilExpiry, 1)

	m.ClearCache(context.Background())
	assert.False(t, m.Info().HasCachedToken)
}
