// Package authn verifies bearer credentials and maps them to an external
// identity. Authorization decisions happen elsewhere; this package only
// answers "who is calling".
package authn

import (
	"context"
	"errors"
)

// ErrInvalidCredential is returned when a credential cannot be verified
var ErrInvalidCredential = errors.New("invalid or expired credential")

// Identity is the verified caller identity as asserted by the identity provider
type Identity struct {
	// Subject is the provider-scoped stable identifier
	Subject string
	Email   string
	Name    string
}

// Verifier validates a raw bearer credential and returns the caller identity
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}
