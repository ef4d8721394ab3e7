package middleware

import (
	"fmt"
	"log"
	"net/http"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/server/auth"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/util"
)

// ValidateTokenMiddleware wraps a downstream handler. It requires a Bearer
// token in the Authorization header and verifies it against the configured
// token endpoint before the request continues. The verified details and a
// request-scoped logger are stored in the request context.
func ValidateTokenMiddleware(cfg *config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			resp.WriteUnauthorized(w, "An access token is required")
			return
		}

		details, err := auth.VerifyAccessToken(r.Context(), cfg, token)
		if err != nil {
			util.WithRequest(log.Default(), r, "").Errorf("token verification failed: %v", err)
			resp.WriteHttpError(w, http.StatusBadGateway, "Token endpoint unavailable")
			return
		}
		if details == nil {
			resp.WriteForbidden(w, "Token validation failed")
			return
		}

		rl := util.WithRequest(log.Default(), r, details.Me)
		w.Header().Set(util.RequestIDHeader, rl.RequestID())
		ctx := util.ContextWithLogger(r.Context(), rl)
		next.ServeHTTP(w, r.WithContext(auth.AddToken(ctx, details)))
	})
}

// RequireScope rejects requests whose verified token lacks scope. It must
// run inside ValidateTokenMiddleware.
func RequireScope(scope auth.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.RequestHasScope(r, scope) {
			resp.WriteInsufficientScope(w, fmt.Sprintf("The %q scope is required", scope))
			return
		}

		next.ServeHTTP(w, r)
	})
}
