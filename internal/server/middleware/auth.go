package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/metrics"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/service"
)

type contextKeyAuth string

const (
	// DecisionKey is the context key for the authentication decision.
	DecisionKey contextKeyAuth = "auth_decision"
	// AdminKey is the context key for the authenticated administrator.
	AdminKey contextKeyAuth = "auth_admin"
)

// WithDecision records a decision made by an upstream mechanism. The API
// key gate will not override it.
func WithDecision(ctx context.Context, d service.Decision) context.Context {
	return context.WithValue(ctx, DecisionKey, d)
}

// GetDecision returns the decision recorded on ctx, or Pass.
func GetDecision(ctx context.Context) service.Decision {
	if d, ok := ctx.Value(DecisionKey).(service.Decision); ok {
		return d
	}
	return service.Pass
}

// Authenticate returns an HTTP middleware that runs the API key gate before
// dispatch. Requests outside the namespace pass through untouched; denied
// requests get a 401 or 403 error envelope.
func Authenticate(auth *service.Authenticator, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := auth.Decide(ctx, routePath(r), r.Header.Get("Authorization"), GetDecision(ctx))
			if decision == service.Deny {
				e := apierr.From(err)
				m.AuthDecision(denyOutcome(e))
				writeAuthError(w, e)
				return
			}
			if decision == service.Allow {
				m.AuthDecision("allow")
			} else {
				m.AuthDecision("pass")
			}
			next.ServeHTTP(w, r.WithContext(WithDecision(ctx, decision)))
		})
	}
}

// routePath returns the path chi will match the request against, so the
// gate never judges a different path than the router dispatches.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
		return rctx.RoutePath
	}
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}

func denyOutcome(e *apierr.Error) string {
	switch e.Kind {
	case apierr.KindUnauthenticated:
		return "unauthenticated"
	case apierr.KindForbidden:
		return "forbidden"
	default:
		return "error"
	}
}

// AdminSessions validates session tokens for the administrative surface.
type AdminSessions interface {
	ValidateSession(ctx context.Context, token string) (*service.AdminPrincipal, error)
}

// RequireAdmin returns an HTTP middleware that requires an administrator
// session token in the Authorization header.
func RequireAdmin(sessions AdminSessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, apierr.Unauthenticated("admin_not_logged_in", "Administrator session required."))
				return
			}
			p, err := sessions.ValidateSession(r.Context(), strings.TrimSpace(header[len("Bearer "):]))
			if err != nil {
				writeAuthError(w, apierr.Forbidden("admin_invalid_session", "Invalid or expired session."))
				return
			}
			ctx := context.WithValue(r.Context(), AdminKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the authenticated administrator from the context.
// Returns nil if no administrator is present.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

// writeAuthError renders the standard error envelope. The handler package
// imports this one, so it cannot be used here.
func writeAuthError(w http.ResponseWriter, e *apierr.Error) {
	status := e.Status()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: e.Code, Message: e.Message, Status: status},
	})
}
