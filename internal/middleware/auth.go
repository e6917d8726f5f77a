package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yourusername/medinterp/internal/logger"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	UserKey   contextKey = "user"
)

// Claims holds JWT token claims for a clinician session. The control
// channel's query-string token carries the same claims.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken validates a JWT string against secret and returns its claims.
// It backs both the HTTP bearer middleware and the control-channel query
// parameter authentication.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// JWTAuth middleware validates bearer JWT tokens and adds user info to context
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.WithComponent("auth")
			requestID := middleware.GetReqID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Warn().Str("request_id", requestID).Str("path", r.URL.Path).Msg("Missing authorization header")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn().Str("request_id", requestID).Msg("Invalid authorization header format")
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(secret, parts[1])
			if err != nil {
				log.Warn().Str("request_id", requestID).Err(err).Msg("Invalid or expired token")
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			log.Debug().Str("request_id", requestID).Str("user_id", claims.UserID.String()).Msg("Token validated")

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ErrQueryTokenMissing is returned when the request carries no token; it
// aliases jwt.ErrTokenMalformed, so IsTokenInvalid classifies it (like any
// malformed/expired/invalid token) as a 4001 close. Anything else from the
// token verification path is an internal failure and closes with code 5000.
var (
	ErrQueryTokenMissing = jwt.ErrTokenMalformed
)

// AuthenticateQueryToken validates the `?token=` parameter used by the
// control channel WebSocket upgrade, which cannot carry an Authorization
// header. Returns (claims, nil) on success; on failure the
// returned error distinguishes a missing/invalid token (caller closes with
// code 4001) from an unexpected verification failure (code 5000).
func AuthenticateQueryToken(secret string, r *http.Request) (*Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, ErrQueryTokenMissing
	}
	claims, err := ParseToken(secret, token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IsTokenInvalid reports whether err reflects a malformed/expired/invalid
// token (code 4001) as opposed to an unexpected internal failure (code 5000).
func IsTokenInvalid(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims) ||
		errors.Is(err, jwt.ErrTokenUnverifiable)
}

// RequestLogger is a middleware that logs HTTP requests using zerolog
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("http")
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("Request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// GetClaims extracts full claims from context
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	return claims, ok
}
