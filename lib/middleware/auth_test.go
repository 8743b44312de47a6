package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-testing"

// generateUserToken creates a valid user JWT token
func generateUserToken(t *testing.T, userID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return tokenString
}

func TestJwtAuth(t *testing.T) {
	var seenUserID string
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := JwtAuth(testJWTSecret)(nextHandler)

	t.Run("valid token is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		req.Header.Set("Authorization", "Bearer "+generateUserToken(t, "user-123"))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-123", seenUserID)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/images", nil)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "authorization header required")
	})

	t.Run("wrong scheme is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("token signed with a different secret is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("some-other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		req.Header.Set("Authorization", "Bearer "+signed)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid token")
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-123",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testJWTSecret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		req.Header.Set("Authorization", "Bearer "+signed)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
