// Package auth verifies bearer credentials and carries the resulting
// identity through request contexts. The same Authenticator guards the
// WebSocket gateway and the REST surface.
package auth

import (
	"context"
	"errors"
)

// Roles understood by RequireRole.
const (
	RoleAdmin    = "admin"
	RoleAgent    = "agent"
	RoleObserver = "observer"
)

// Identity is the authenticated principal bound to a connection or request.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	AgentID  string `json:"agentId"`
}

// Authenticator turns an opaque credential into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// Refusal reasons. Their messages are shown to clients verbatim.
var (
	ErrNoCredential      = errors.New("no credential supplied")
	ErrInvalidCredential = errors.New("credential invalid")
)

// AuthenticationError is a refused credential. Kind is ErrNoCredential or
// ErrInvalidCredential; Cause is the underlying verification failure, if any.
type AuthenticationError struct {
	Kind  error
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *AuthenticationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Reason returns the client-facing refusal reason.
func (e *AuthenticationError) Reason() string { return e.Kind.Error() }

// Reason maps any authentication failure to one of the two client-facing
// reasons. Unknown errors count as an invalid credential.
func Reason(err error) string {
	if errors.Is(err, ErrNoCredential) {
		return ErrNoCredential.Error()
	}
	return ErrInvalidCredential.Error()
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
