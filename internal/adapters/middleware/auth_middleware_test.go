package middleware_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IANDYI/progress-service/internal/adapters/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

func claimsFor(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "user123",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"jti":  "test-jti-" + role,
	}
}

func newTestMiddleware(t *testing.T) (*middleware.AuthMiddleware, *rsa.PrivateKey) {
	privateKey, publicKey := generateTestKeyPair(t)
	mw := middleware.NewAuthMiddleware(publicKey, zap.NewNop())
	t.Cleanup(mw.Stop)
	return mw, privateKey
}

func TestAuthMiddleware_GetClaimsFromCacheOrParse_ValidToken(t *testing.T) {
	mw, privateKey := newTestMiddleware(t)
	tokenString := createTestToken(t, privateKey, claimsFor(middleware.RoleAdmin))

	resultClaims, jti, err := mw.GetClaimsFromCacheOrParse(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "test-jti-ADMIN", jti)
	assert.Equal(t, "user123", resultClaims["sub"])
	assert.Equal(t, "ADMIN", resultClaims["role"])
}

func TestAuthMiddleware_GetClaimsFromCacheOrParse_CacheHit(t *testing.T) {
	mw, privateKey := newTestMiddleware(t)
	tokenString := createTestToken(t, privateKey, claimsFor(middleware.RoleClinician))

	claims1, jti1, err := mw.GetClaimsFromCacheOrParse(tokenString)
	require.NoError(t, err)

	claims2, jti2, err := mw.GetClaimsFromCacheOrParse(tokenString)
	require.NoError(t, err)

	assert.Equal(t, jti1, jti2)
	assert.Equal(t, claims1["sub"], claims2["sub"])
}

func TestAuthMiddleware_GetClaimsFromCacheOrParse_Rejects(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	otherKey, _ := generateTestKeyPair(t)

	expired := claimsFor(middleware.RoleAdmin)
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	noExpiry := claimsFor(middleware.RoleAdmin)
	delete(noExpiry, "exp")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid-token"},
		{"expired", createTestToken(t, otherKey, expired)},
		{"missing expiry", createTestToken(t, otherKey, noExpiry)},
		{"foreign signature", createTestToken(t, otherKey, claimsFor("FOREIGN"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := mw.GetClaimsFromCacheOrParse(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	mw, privateKey := newTestMiddleware(t)
	tokenString := createTestToken(t, privateKey, claimsFor(middleware.RolePatient))

	handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "user123", userID)

		role, ok := middleware.GetRole(r.Context())
		assert.True(t, ok)
		assert.Equal(t, middleware.RolePatient, role)

		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/progress/conditions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	handler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RequireAuth_Unauthorized(t *testing.T) {
	mw, privateKey := newTestMiddleware(t)
	noRole := claimsFor("")
	delete(noRole, "role")

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"invalid token", "Bearer invalid-token"},
		{"missing role", "Bearer " + createTestToken(t, privateKey, noRole)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
				t.Error("Handler should not be called")
			})

			req := httptest.NewRequest("POST", "/progress/entries", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body struct {
				Errors []map[string]string `json:"errors"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			require.Len(t, body.Errors, 1)
			assert.Equal(t, "Unauthorized", body.Errors[0]["code"])
		})
	}
}

func TestAuthMiddleware_RequireAnyRole(t *testing.T) {
	mw, privateKey := newTestMiddleware(t)

	tests := []struct {
		role string
		want int
	}{
		{middleware.RoleClinician, http.StatusOK},
		{middleware.RoleAdmin, http.StatusOK},
		{middleware.RolePatient, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			handler := mw.RequireAnyRole([]string{middleware.RoleClinician, middleware.RoleAdmin}, func(w http.ResponseWriter, r *http.Request) {
				role, _ := middleware.GetRole(r.Context())
				assert.Equal(t, tt.role, role)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/progress/dashboard-stats", nil)
			req.Header.Set("Authorization", "Bearer "+createTestToken(t, privateKey, claimsFor(tt.role)))
			w := httptest.NewRecorder()

			handler(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
