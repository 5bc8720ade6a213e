package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"catalogd/services/access"
	"catalogd/services/blueprints"
)

type callerKey struct{}

func callerFrom(ctx context.Context) (access.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(access.Caller)
	return c, ok
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// authenticate resolves HTTP basic credentials and stores the caller on the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, password, ok := r.BasicAuth()
		if !ok || name == "" {
			unauthorized(w, errors.New("authentication required"))
			return
		}

		caller, err := a.auth.Authenticate(r.Context(), name, password)
		switch {
		case errors.Is(err, access.ErrInvalidCredentials):
			a.log.Info().Str("user", name).Str("request_id", requestID(r)).Msg("rejected credentials")
			unauthorized(w, errors.New("invalid credentials"))
			return
		case err != nil:
			a.internalError(w, r, fmt.Errorf("authenticate %s: %w", name, err))
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		ctx = blueprints.WithActor(ctx, caller.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Basic realm="catalogd"`)
	respondError(w, http.StatusUnauthorized, err)
}

// authorize answers forbidden and returns false unless the caller holds capability.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, capability string) bool {
	caller, ok := callerFrom(r.Context())
	if !ok {
		unauthorized(w, errors.New("authentication required"))
		return false
	}

	allowed, err := a.access.Allowed(r.Context(), caller, capability)
	if err != nil {
		a.internalError(w, r, fmt.Errorf("check %s for %s: %w", capability, caller.Name, err))
		return false
	}
	if !allowed {
		authorizationDenied.WithLabelValues(capability).Inc()
		a.log.Info().
			Str("user", caller.Name).
			Str("capability", capability).
			Str("request_id", requestID(r)).
			Msg("capability denied")
		respondError(w, http.StatusForbidden, fmt.Errorf("use of the %s capability is forbidden", capability))
		return false
	}
	return true
}
