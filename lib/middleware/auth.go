// Package middleware provides HTTP middleware for the imageman API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imgforge/imageman/lib/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// JwtAuth creates a chi middleware that validates JWT bearer tokens.
func JwtAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.DebugContext(r.Context(), "missing authorization header")
				writeAuthError(w, "authorization header required")
				return
			}

			token, err := extractBearerToken(authHeader)
			if err != nil {
				log.DebugContext(r.Context(), "invalid authorization header", "error", err)
				writeAuthError(w, "invalid authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			parsedToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				log.DebugContext(r.Context(), "failed to parse JWT", "error", err)
				writeAuthError(w, "invalid token")
				return
			}
			if !parsedToken.Valid {
				log.DebugContext(r.Context(), "invalid JWT token")
				writeAuthError(w, "invalid token")
				return
			}

			var userID string
			if sub, ok := claims["sub"].(string); ok {
				userID = sub
			}

			newCtx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(newCtx))
		})
	}
}

// GetUserIDFromContext extracts the user ID from context
func GetUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

// writeAuthError writes a consistent JSON error response for auth failures.
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"code":"%s","message":"%s"}`, http.StatusText(http.StatusUnauthorized), message)
}

// extractBearerToken extracts the token from "Bearer <token>" format
func extractBearerToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid authorization header format")
	}

	scheme := strings.ToLower(parts[0])
	if scheme != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme: %s", scheme)
	}

	return parts[1], nil
}
