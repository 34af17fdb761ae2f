package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "test-signing-key-0123456789"

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("scanner-1", RoleScanner, "desk", testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, testKey, "desk", TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "scanner-1", claims.DeviceID())
	assert.Equal(t, RoleScanner, claims.Role)
	assert.Equal(t, TypeAccess, claims.Type)

	refresh, err := Parse(pair.RefreshToken, testKey, "desk", TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "scanner-1", refresh.DeviceID())

	_, err = Parse(pair.RefreshToken, testKey, "desk", TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = Parse(pair.AccessToken, testKey, "desk", TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = Parse(pair.AccessToken, testKey, "someone-else", TypeAccess)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, "wrong-key", "desk", TypeAccess)
	assert.Error(t, err)
}

func TestIssueRequiresDevice(t *testing.T) {
	_, err := Issue("", RoleScanner, "desk", testKey, time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestDeviceAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", DeviceAuth(testKey, "desk", zap.NewNop()), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		assert.True(t, ok)
		c.String(http.StatusOK, claims.DeviceID())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	pair, err := Issue("console-1", RoleConsole, "desk", testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console-1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh tokens are not bearer tokens")
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", DeviceAuth(testKey, "desk", zap.NewNop()), RequireRole(RoleConsole), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for role, want := range map[string]int{RoleConsole: http.StatusNoContent, RoleScanner: http.StatusForbidden} {
		pair, err := Issue("dev", role, "desk", testKey, time.Minute, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

func TestCredentialsLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte("upstream"))
	require.NoError(t, err)

	creds := NewCredentials("")
	creds.now = func() time.Time { return now }
	assert.Empty(t, creds.Token())

	creds.Set(tok)
	assert.Equal(t, tok, creds.Token())
	assert.Equal(t, now.Add(time.Hour).Unix(), creds.ExpiresAt().Unix())

	creds.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.Empty(t, creds.Token(), "expired tokens are not sent")

	creds.Set("opaque-laravel-token")
	assert.Equal(t, "opaque-laravel-token", creds.Token())

	creds.Clear()
	assert.Empty(t, creds.Token())
}
