package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AdminKeyHeader carries the key for upload-layer and maintenance endpoints
const AdminKeyHeader = "X-Admin-Key"

// UserIDFromContext returns the authenticated caller, or "" when there is none
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// authenticate resolves the caller from an HS256 bearer token
func authenticate(authHeader string, cfg config.AuthConfig) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	if cfg.JWTSecret == "" {
		return "", errors.New("JWT secret not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// requireUser rejects requests without a valid bearer token
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticate(r.Header.Get("Authorization"), h.auth)
		if err != nil {
			h.logger.Debug("authentication failed", "error", err, "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, domain.ErrNotAuthenticated)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects requests without a configured admin key
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(AdminKeyHeader)
		if key == "" || !h.validAdminKey(key) {
			h.logger.Warn("admin authentication failed", "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, domain.ErrNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) validAdminKey(key string) bool {
	for _, candidate := range h.auth.AdminKeys {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
