package server

import (
	"context"
	"net/http"
	"strings"

	"launchledger/internal/engine/auth"
)

// metaBearer flags operations that expect an Authorization bearer token.
const metaBearer = "bearer"

type AuthConfig struct {
	// JWTSecret verifies HS256 operator tokens.
	JWTSecret string
	// VoterTokenSecret decrypts the encrypted voter tokens passed as ?token=.
	VoterTokenSecret string
	// CronSecret is the bearer token accepted on the cron trigger. Empty
	// disables the endpoint.
	CronSecret string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

type authHeaderKey struct{}

func authHeaderFromContext(ctx context.Context) string {
	v, _ := ctx.Value(authHeaderKey{}).(string)
	return v
}

// requireAdmin resolves the operator principal for ctx.
func requireAdmin(ctx context.Context, cfg AuthConfig) (auth.Principal, error) {
	if p, ok := principalFromContext(ctx); ok {
		return p, p.RequireRole(auth.RoleAdmin)
	}
	authz := authHeaderFromContext(ctx)
	if authz == "" {
		return auth.Principal{}, auth.UnauthorizedError{Reason: "authentication required"}
	}
	token, ok := auth.BearerToken(authz)
	if !ok {
		return auth.Principal{}, auth.UnauthorizedError{Reason: "bearer token required"}
	}
	p, err := auth.ParseAdminToken(token, cfg.JWTSecret)
	if err != nil {
		return auth.Principal{}, err
	}
	return p, p.RequireRole(auth.RoleAdmin)
}

// newAuthMiddleware stashes the Authorization header and, when it carries
// a valid operator JWT, the principal. It never rejects: the cron trigger
// uses the same header with a shared secret, and public routes ignore it.
func newAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				next.ServeHTTP(w, req)
				return
			}
			ctx := context.WithValue(req.Context(), authHeaderKey{}, authz)
			if token, ok := auth.BearerToken(authz); ok && strings.Count(token, ".") == 2 {
				if p, err := auth.ParseAdminToken(token, cfg.JWTSecret); err == nil {
					ctx = withPrincipal(ctx, p)
				}
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
