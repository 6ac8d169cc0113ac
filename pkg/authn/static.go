package authn

import "context"

// StaticVerifier resolves tokens from a fixed table. Used in tests and
// local development where no identity provider is available.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStaticVerifier creates a verifier backed by a token -> identity table
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	identity, ok := v.tokens[rawToken]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &identity, nil
}
