package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator validates actor bearer tokens on protected routes.
type TokenValidator interface {
	ValidateToken(tokenString string) (*ActorClaims, error)
}

// ActorClaims is what a validated token asserts about the caller. Capabilities
// feed the authorization check before money-reversing operations.
type ActorClaims struct {
	ActorID      string
	Capabilities []string
}

type actorKey struct{}

var contextKeyActor = actorKey{}

// GetActor retrieves the authenticated actor claims from the context, or nil
// when the route ran without RequireAuth.
func GetActor(ctx context.Context) *ActorClaims {
	claims, ok := ctx.Value(contextKeyActor).(*ActorClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithActor injects actor claims; exposed for service tests that bypass HTTP.
func WithActor(ctx context.Context, claims *ActorClaims) context.Context {
	return context.WithValue(ctx, contextKeyActor, claims)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// actor claims in context for downstream capability checks.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(ctx, claims)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
