// Package profile owns the durable profile records keyed by identity
// subject. Profiles are created lazily on first authentication and are
// only ever mutated through this package; tier changes arrive from an
// external billing process writing the same table.
package profile

import (
	"context"
	"errors"

	"github.com/tierguard/tierguard/pkg/auth"
)

// ErrUnavailable indicates the profile store could not be reached or
// timed out. It is distinct from any per-request client failure.
var ErrUnavailable = errors.New("profile store unavailable")

// IsUnavailable checks if an error is a store-availability failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Repository provides profile lookup with lazy creation
type Repository interface {
	// GetOrCreate returns the profile for an identity, creating it at the
	// default tier if this is the identity's first authentication.
	// Creation is idempotent: concurrent first-time calls for the same
	// identity all observe the same single row.
	GetOrCreate(ctx context.Context, ident *auth.Identity) (*auth.Profile, error)
	// Get returns the profile for a subject, or (nil, nil) when absent
	Get(ctx context.Context, subject string) (*auth.Profile, error)
}
