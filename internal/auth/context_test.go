// ABOUTME: Tests for identity propagation through context
// ABOUTME: Covers attach, lookup and the anonymous default

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Empty(t, UserID(ctx))

	ctx = WithIdentity(ctx, &Identity{UserID: "alice", Verified: true})
	got := FromContext(ctx)
	if assert.NotNil(t, got) {
		assert.Equal(t, "alice", got.UserID)
		assert.True(t, got.Verified)
	}
	assert.Equal(t, "alice", UserID(ctx))
}
