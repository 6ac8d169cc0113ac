package authn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]Identity{
		"alice-token": {Subject: "ext-alice", Email: "alice@example.com", Name: "Alice"},
	})

	identity, err := v.Verify(context.Background(), "alice-token")
	require.NoError(t, err)
	assert.Equal(t, "ext-alice", identity.Subject)
	assert.Equal(t, "alice@example.com", identity.Email)

	_, err = v.Verify(context.Background(), "bogus")
	assert.True(t, errors.Is(err, ErrInvalidCredential))
}
