package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Send(ctx context.Context, msg *Message) (*Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{ID: msg.ID, Transport: "fake"}, nil
}

func TestBreakerClient_PassesThrough(t *testing.T) {
	next := &fakeClient{}
	c := NewBreakerClient(next, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, SendTimeout: time.Second})

	res, err := c.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.ID)
	assert.Equal(t, "fake", c.Name())
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &fakeClient{err: errors.New("smtp 421")}
	c := NewBreakerClient(next, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, SendTimeout: time.Second})

	for i := 0; i < 2; i++ {
		_, err := c.Send(context.Background(), testMessage())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestBreakerClient_EmptyDestinationDoesNotTrip(t *testing.T) {
	next := &fakeClient{err: ErrEmptyDestination}
	c := NewBreakerClient(next, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute, SendTimeout: time.Second})

	for i := 0; i < 3; i++ {
		_, err := c.Send(context.Background(), testMessage())
		assert.ErrorIs(t, err, ErrEmptyDestination)
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestBreakerClient_Timeout(t *testing.T) {
	next := &fakeClient{delay: 200 * time.Millisecond}
	c := NewBreakerClient(next, BreakerConfig{MaxFailures: 5, SendTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrSendTimeout)
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
