package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/logger"
	"go.uber.org/zap"
)

// Middleware handles authentication for HTTP requests
type Middleware struct {
	tokens        *SessionTokens
	sessionCookie string
	apiKey        string
	logger        *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg *config.Config, logger *zap.Logger) *Middleware {
	return &Middleware{
		tokens:        NewSessionTokens(&cfg.Auth),
		sessionCookie: cfg.Auth.SessionCookie,
		apiKey:        cfg.ApiKey.Value,
		logger:        logger,
	}
}

// Authenticate accepts, in order: the admin API key in x-api-key, a Bearer
// session token, or the session cookie.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if apiKey := r.Header.Get("x-api-key"); apiKey != "" {
			if !m.validateAPIKey(apiKey) {
				m.logger.Warn("invalid API key attempt",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userCtx := &UserContext{
				UserID:      SystemUserID,
				DisplayName: "System",
				Role:        domain.RoleSuperAdmin,
			}
			m.logger.Debug("request authenticated",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("auth_type", "api_key"),
				zap.Duration("auth_duration", time.Since(start)),
			)
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
			return
		}

		token, source := m.extractToken(r)
		if token == "" {
			http.Error(w, "Unauthorized: missing credentials", http.StatusUnauthorized)
			return
		}

		userCtx, err := m.tokens.Validate(token)
		if err != nil {
			m.logger.Warn("session validation failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("auth_type", source),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, "Unauthorized: invalid session", http.StatusUnauthorized)
			return
		}

		logger.WithUser(m.logger, userCtx.UserID, string(userCtx.Role)).Debug("request authenticated",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("auth_type", source),
			zap.Duration("auth_duration", time.Since(start)),
		)
		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
	})
}

// extractToken returns the session token and where it came from
func (m *Middleware) extractToken(r *http.Request) (string, string) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1]), "bearer"
		}
		return "", ""
	}
	if m.sessionCookie != "" {
		if cookie, err := r.Cookie(m.sessionCookie); err == nil {
			return cookie.Value, "cookie"
		}
	}
	return "", ""
}

// RequireRole middleware ensures user has specific role
func (m *Middleware) RequireRole(roles ...domain.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userCtx, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "Forbidden: no user context", http.StatusForbidden)
				return
			}
			if !userCtx.HasAnyRole(roles...) {
				logger.WithUser(m.logger, userCtx.UserID, string(userCtx.Role)).Warn("role check failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validateAPIKey compares in constant time
func (m *Middleware) validateAPIKey(key string) bool {
	if m.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) == 1
}
