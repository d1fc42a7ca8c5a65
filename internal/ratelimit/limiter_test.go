package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository/memory"
	"github.com/jwalitptl/notify-api/pkg/clock"
)

func newTestLimiter(t *testing.T, rules ...model.RateLimitRule) (*Limiter, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewLimiter(memory.NewCounterStore(), clk, nil, nil)
	require.NoError(t, l.SetRules(rules))
	return l, clk
}

func TestCheckUnknownActionIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t)

	dec, err := l.Check(context.Background(), "user-1", "unconfigured")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, -1, dec.Remaining)
}

func TestCheckAllowsExactlyTheConfiguredLimit(t *testing.T) {
	l, _ := newTestLimiter(t, model.RateLimitRule{
		Action:            "api_call",
		RequestsPerWindow: 3,
		WindowSeconds:     60,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		dec, err := l.Check(ctx, "user-1", "api_call")
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "call %d should be allowed", i+1)
		assert.Equal(t, 3-(i+1), dec.Remaining)
	}

	dec, err := l.Check(ctx, "user-1", "api_call")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
	assert.Nil(t, dec.BlockedUntil)
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(t, model.RateLimitRule{
		Action:            "api_call",
		RequestsPerWindow: 1,
		WindowSeconds:     60,
	})

	ctx := context.Background()
	dec, err := l.Check(ctx, "user-1", "api_call")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(ctx, "user-2", "api_call")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheckResetsAtWindowBoundary(t *testing.T) {
	l, clk := newTestLimiter(t, model.RateLimitRule{
		Action:            "api_call",
		RequestsPerWindow: 1,
		WindowSeconds:     60,
	})

	ctx := context.Background()
	dec, err := l.Check(ctx, "user-1", "api_call")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = l.Check(ctx, "user-1", "api_call")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	clk.Advance(61 * time.Second)

	dec, err = l.Check(ctx, "user-1", "api_call")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

// Mirrors the login_attempt scenario: 5 per 300s window, 900s block.
func TestBlockPersistsAcrossWindowBoundaries(t *testing.T) {
	l, clk := newTestLimiter(t, model.RateLimitRule{
		Action:               "login_attempt",
		RequestsPerWindow:    5,
		WindowSeconds:        300,
		BlockDurationSeconds: 900,
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		dec, err := l.Check(ctx, "ip:1.2.3.4", "login_attempt")
		require.NoError(t, err)
		require.True(t, dec.Allowed, "call %d", i+1)
	}

	dec, err := l.Check(ctx, "ip:1.2.3.4", "login_attempt")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	require.NotNil(t, dec.BlockedUntil)
	blockedUntil := *dec.BlockedUntil
	assert.Equal(t, clk.Now().Add(900*time.Second), blockedUntil)

	// 10 seconds later the same block is still reported.
	clk.Advance(10 * time.Second)
	dec, err = l.Check(ctx, "ip:1.2.3.4", "login_attempt")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	require.NotNil(t, dec.BlockedUntil)
	assert.Equal(t, blockedUntil, *dec.BlockedUntil)

	// Still blocked after the counting window itself rolled over.
	clk.Advance(400 * time.Second)
	dec, err = l.Check(ctx, "ip:1.2.3.4", "login_attempt")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	require.NotNil(t, dec.BlockedUntil)
	assert.Equal(t, blockedUntil, *dec.BlockedUntil)

	// Block elapsed: attempts are counted again in a fresh window.
	clk.Advance(900 * time.Second)
	dec, err = l.Check(ctx, "ip:1.2.3.4", "login_attempt")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestThrottleOnlyRuleNeverBlocks(t *testing.T) {
	l, clk := newTestLimiter(t, model.RateLimitRule{
		Action:            "export",
		RequestsPerWindow: 2,
		WindowSeconds:     60,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "user-1", "export")
		require.NoError(t, err)
	}

	dec, err := l.Check(ctx, "user-1", "export")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Nil(t, dec.BlockedUntil)

	clk.Advance(time.Minute)
	dec, err = l.Check(ctx, "user-1", "export")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestSetRulesRejectsInvalidRule(t *testing.T) {
	l := NewLimiter(memory.NewCounterStore(), clock.RealClock{}, nil, nil)

	err := l.SetRules([]model.RateLimitRule{{
		Action:            "bad",
		RequestsPerWindow: 0,
		WindowSeconds:     60,
	}})
	assert.Error(t, err)

	err = l.SetRules([]model.RateLimitRule{
		{Action: "dup", RequestsPerWindow: 1, WindowSeconds: 60},
		{Action: "dup", RequestsPerWindow: 2, WindowSeconds: 60},
	})
	assert.Error(t, err)
}

func TestCleanupRemovesElapsedBlocks(t *testing.T) {
	l, clk := newTestLimiter(t, model.RateLimitRule{
		Action:               "login_attempt",
		RequestsPerWindow:    1,
		WindowSeconds:        60,
		BlockDurationSeconds: 120,
	})

	ctx := context.Background()
	_, err := l.Check(ctx, "user-1", "login_attempt")
	require.NoError(t, err)
	dec, err := l.Check(ctx, "user-1", "login_attempt")
	require.NoError(t, err)
	require.NotNil(t, dec.BlockedUntil)

	clk.Advance(121 * time.Second)
	removed, err := l.Cleanup(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	dec, err = l.Check(ctx, "user-1", "login_attempt")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}
