package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimService_AcquireRelease(t *testing.T) {
	mr, adapter := testutil.SetupTestRedis(t)
	svc := NewClaimService(adapter, ClaimConfig{TTL: time.Minute})
	ctx := context.Background()

	c, err := svc.Acquire(ctx, 7, "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, "claim:7:2024-03-11", c.Key)
	assert.True(t, mr.Exists("claim:7:2024-03-11"))
	assert.Equal(t, time.Minute, mr.TTL("claim:7:2024-03-11"))

	_, err = svc.Acquire(ctx, 7, "2024-03-11")
	assert.ErrorIs(t, err, ErrClaimHeld)

	// a different local date is a different claim
	_, err = svc.Acquire(ctx, 7, "2024-03-12")
	assert.NoError(t, err)

	require.NoError(t, svc.Release(ctx, c))
	assert.False(t, mr.Exists("claim:7:2024-03-11"))
	// releasing twice is harmless
	assert.NoError(t, svc.Release(ctx, c))
	assert.NoError(t, svc.Release(ctx, nil))
}

func TestClaimService_ReleaseKeepsForeignClaim(t *testing.T) {
	mr, adapter := testutil.SetupTestRedis(t)
	svc := NewClaimService(adapter, ClaimConfig{TTL: time.Minute})
	ctx := context.Background()

	c, err := svc.Acquire(ctx, 7, "2024-03-11")
	require.NoError(t, err)

	// expired and re-taken by another instance
	mr.FastForward(2 * time.Minute)
	other, err := svc.Acquire(ctx, 7, "2024-03-11")
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, c))
	claimed, err := svc.IsClaimed(ctx, 7, "2024-03-11")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, svc.Release(ctx, other))
	claimed, err = svc.IsClaimed(ctx, 7, "2024-03-11")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimService_RedisDown(t *testing.T) {
	mr, adapter := testutil.SetupTestRedis(t)
	svc := NewClaimService(adapter, DefaultClaimConfig())
	mr.Close()

	_, err := svc.Acquire(context.Background(), 7, "2024-03-11")
	assert.ErrorIs(t, err, ErrClaimAcquireFailed)
}
