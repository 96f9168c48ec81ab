package middleware

import (
	"context"
	"net/http"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/auth"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// CallerResolver maps an authenticated user to the profile they act as.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, userID string) (identity.Caller, error)
}

// Authenticate verifies the bearer token and attaches the caller. Users
// without a doctor or patient profile pass through with an empty role so
// they can register one.
func Authenticate(verifier TokenVerifier, resolver CallerResolver, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(auth.BearerToken(r))
			if err != nil {
				logger.Debug("auth: token rejected", "path", r.URL.Path, "error", err)
				apperr.Write(w, apperr.Unauthorized("unauthorized"))
				return
			}
			caller, err := resolver.ResolveCaller(r.Context(), claims.Subject)
			if err != nil {
				logger.Error("auth: resolve caller failed", "user_id", claims.Subject, "error", err)
				apperr.Write(w, err)
				return
			}
			caller.UserID = claims.Subject
			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
		})
	}
}
