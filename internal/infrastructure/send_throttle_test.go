package infrastructure

import (
	"context"
	"testing"
	"time"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type countingSender struct {
	texts, files int
}

func (c *countingSender) SendText(context.Context, interfaces.SendRequest) (string, error) {
	c.texts++
	return "t", nil
}

func (c *countingSender) SendFile(context.Context, interfaces.SendRequest) (string, error) {
	c.files++
	return "f", nil
}

func TestThrottledSenderLimitsPerIntegration(t *testing.T) {
	next := &countingSender{}
	s := NewThrottledSender(next, 0.001, 1)

	a := interfaces.SendRequest{Integration: &entities.Integration{ID: "a"}}
	b := interfaces.SendRequest{Integration: &entities.Integration{ID: "b"}}

	id, err := s.SendText(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "t", id)

	id, err = s.SendFile(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "f", id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.SendText(ctx, a)
	assert.Error(t, err)

	assert.Equal(t, 1, next.texts)
	assert.Equal(t, 1, next.files)
}

func TestKeyedLimitersSweepIdleKeys(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k := NewKeyedLimiters(rate.Every(time.Hour), 1, time.Minute)
	k.now = func() time.Time { return clock }
	k.lastSweep = clock

	first := k.Get("ip:10.0.0.1")
	require.True(t, first.Allow())
	k.Get("ip:10.0.0.2")
	assert.Same(t, first, k.Get("ip:10.0.0.1"))

	clock = clock.Add(30 * time.Second)
	k.Get("ip:10.0.0.2")

	clock = clock.Add(45 * time.Second)
	fresh := k.Get("ip:10.0.0.3")
	require.NotNil(t, fresh)

	k.mu.Lock()
	_, keptActive := k.buckets["ip:10.0.0.2"]
	_, keptIdle := k.buckets["ip:10.0.0.1"]
	size := len(k.buckets)
	k.mu.Unlock()
	assert.True(t, keptActive)
	assert.False(t, keptIdle)
	assert.Equal(t, 2, size)

	again := k.Get("ip:10.0.0.1")
	assert.NotSame(t, first, again)
	assert.True(t, again.Allow())
}
