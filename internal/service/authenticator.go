package service

import (
	"context"
	"strings"

	"github.com/cptrest/cptrest/internal/apierr"
)

// Decision is the Authenticator's verdict on a request.
type Decision int

const (
	// Pass means the request is outside the API namespace and no opinion
	// is expressed.
	Pass Decision = iota
	// Allow means the request may proceed to dispatch.
	Allow
	// Deny means the request must be rejected with the returned error.
	Deny
)

// KeyValidator validates a presented secret.
type KeyValidator interface {
	Validate(ctx context.Context, secret string) (bool, error)
}

// SegmentSource supplies the current base path segment.
type SegmentSource interface {
	BaseSegment(ctx context.Context) (string, error)
}

// Authenticator gates requests under the API namespace. A valid key grants
// full read, write and delete access to every active post type: keys carry
// no scopes.
type Authenticator struct {
	keys     KeyValidator
	segments SegmentSource
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys KeyValidator, segments SegmentSource) *Authenticator {
	return &Authenticator{keys: keys, segments: segments}
}

// Decide applies the gate to one request. A prior decision from an upstream
// mechanism is returned unchanged. On Deny the error is an *apierr.Error.
// Every namespace path other than the root and the OpenAPI document needs
// a key, whether or not a route exists for it.
func (a *Authenticator) Decide(ctx context.Context, reqPath, authorization string, prior Decision) (Decision, error) {
	if prior != Pass {
		return prior, nil
	}

	segment, err := a.segments.BaseSegment(ctx)
	if err != nil {
		return Deny, apierr.From(err)
	}
	prefix := "/" + segment + "/v1"

	// reqPath must be the path the router matches on. It is compared as
	// is: dot segments and escaped slashes are never exempt.
	if !strings.HasPrefix(reqPath, prefix+"/") {
		return Pass, nil
	}
	switch strings.TrimPrefix(reqPath, prefix) {
	case "/", "/openapi", "/openapi/":
		return Allow, nil
	}

	token, ok := trimBearer(authorization)
	if !ok {
		return Deny, apierr.Unauthenticated("rest_not_logged_in",
			"You are not logged in and no valid API key was provided.")
	}
	valid, err := a.keys.Validate(ctx, token)
	if err != nil {
		return Deny, apierr.From(err)
	}
	if !valid {
		return Deny, apierr.Forbidden("rest_forbidden", "Invalid API key.")
	}
	return Allow, nil
}
