// Package identity resolves a request credential into a verified identity.
//
// The resolver is stateless: it extracts the Bearer credential and hands it
// to a Verifier, which consumes the external identity provider. Provider
// failures collapse into a three-way taxonomy so callers can distinguish
// a bad credential from a provider outage.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tierguard/tierguard/pkg/auth"
)

// FailureKind classifies resolution failures
type FailureKind int

const (
	// KindUnauthenticated means no credential was presented at all
	KindUnauthenticated FailureKind = iota
	// KindInvalidCredential means the credential is malformed, expired,
	// or failed verification
	KindInvalidCredential
	// KindUpstreamUnavailable means the provider could not be reached;
	// the credential itself was not judged
	KindUpstreamUnavailable
)

// Error is a typed resolution failure
type Error struct {
	Kind  FailureKind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Unauthenticated constructs a missing-credential failure
func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, msg: msg}
}

// InvalidCredential constructs a bad-credential failure
func InvalidCredential(msg string, cause error) *Error {
	return &Error{Kind: KindInvalidCredential, msg: msg, cause: cause}
}

// UpstreamUnavailable constructs a provider-outage failure
func UpstreamUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, msg: msg, cause: cause}
}

// KindOf returns the failure kind of err, or (0, false) if err is not a
// resolution failure
func KindOf(err error) (FailureKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Verifier verifies a raw credential against the external identity
// provider. Implementations map their provider-specific failures into the
// package taxonomy.
type Verifier interface {
	Verify(ctx context.Context, rawCredential string) (*auth.Identity, error)
}

// Resolver extracts and verifies the request credential
type Resolver struct {
	verifier Verifier
}

// NewResolver creates a resolver over the given verifier
func NewResolver(verifier Verifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve verifies the credential carried in an Authorization header value.
//
// A missing header fails with Unauthenticated without contacting the
// provider. A header that is not a well-formed "Bearer <token>" fails with
// InvalidCredential. Everything else is decided by the verifier.
func (r *Resolver) Resolve(ctx context.Context, authorizationHeader string) (*auth.Identity, error) {
	if authorizationHeader == "" {
		return nil, Unauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authorizationHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, InvalidCredential("invalid authorization header format", nil)
	}

	return r.verifier.Verify(ctx, parts[1])
}
