package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgAuth "github.com/coursepass/coursepass-backend/pkg/auth"
	"github.com/coursepass/coursepass-backend/pkg/config"
	"github.com/coursepass/coursepass-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "coursepass-test",
		ExpirationMinutes: 15,
	}
}

func mintToken(t *testing.T, cfg config.JWTConfig, role enums.Role) (string, uuid.UUID) {
	t.Helper()

	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
	})
	require.NoError(t, err)
	return token, userID
}

func TestAuthSeedsContext(t *testing.T) {
	cfg := testJWTConfig()
	token, userID := mintToken(t, cfg, enums.RoleMember)

	var gotUser, gotRole string
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID.String(), gotUser)
	assert.Equal(t, string(enums.RoleMember), gotRole)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWTConfig(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsBadSignature(t *testing.T) {
	cfg := testJWTConfig()
	otherCfg := cfg
	otherCfg.Secret = "other-secret"
	token, _ := mintToken(t, otherCfg, enums.RoleMember)

	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	cfg := testJWTConfig()

	adminOnly := func(token string) int {
		handler := Auth(cfg, nil)(RequireRole(string(enums.RoleAdmin), nil)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/plans", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	adminToken, _ := mintToken(t, cfg, enums.RoleAdmin)
	assert.Equal(t, http.StatusOK, adminOnly(adminToken))

	memberToken, _ := mintToken(t, cfg, enums.RoleMember)
	assert.Equal(t, http.StatusForbidden, adminOnly(memberToken))
}
