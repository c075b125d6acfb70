package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWithNoLimitsNeverBlocks(t *testing.T) {
	l := New(Limits{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, 100000))
}

func TestLimiterRequestsPerMinuteBurstAllowsImmediateFirstCalls(t *testing.T) {
	l := New(Limits{RequestsPerMinute: 60})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 60; i++ {
		require.NoError(t, l.Wait(ctx, 0))
	}
}

func TestLimiterTokensPerMinuteThrottlesBeyondBurst(t *testing.T) {
	l := New(Limits{TokensPerMinute: 60})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(context.Background(), 60))
	err := l.Wait(ctx, 60)
	require.Error(t, err, "a second full-burst request should be throttled past the short deadline")
}

func TestLimiterSafetyMarginReducesEffectiveRate(t *testing.T) {
	lenient := New(Limits{RequestsPerMinute: 600})
	strict := New(Limits{RequestsPerMinute: 600, SafetyMargin: 0.5})

	require.Less(t, strict.requests.Limit(), lenient.requests.Limit())
}

func TestLimiterRecordIsANoOpWhenActualDoesNotExceedEstimate(t *testing.T) {
	l := New(Limits{TokensPerMinute: 1000})
	require.NotPanics(t, func() {
		l.Record(500, 400)
	})
}

func TestClampToBurstNeverExceedsLimiterBurst(t *testing.T) {
	l := New(Limits{TokensPerMinute: 100})
	require.Equal(t, 100, clampToBurst(1000, l.tokensPM))
	require.Equal(t, 50, clampToBurst(50, l.tokensPM))
}
