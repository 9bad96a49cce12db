package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisLimiterRejectsEmptyQuota(t *testing.T) {
	for _, q := range []Quota{{}, {PerSecond: 10}, {Burst: 10}, {PerSecond: -1, Burst: 5}} {
		_, err := NewRedisLimiter(nil, "seclending", q)
		require.ErrorIs(t, err, ErrInvalidQuota)
	}

	l, err := NewRedisLimiter(nil, "seclending", Quota{PerSecond: 500, Burst: 1000})
	require.NoError(t, err)
	assert.Equal(t, 500, l.limit.Rate)
	assert.Equal(t, time.Second, l.limit.Period)
	assert.Equal(t, 1000, l.limit.Burst)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "seclending:ratelimit:desk-1", Key("seclending", "desk-1"))
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int64
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{3 * time.Second, 3},
	}
	for _, tt := range tests {
		res := &Result{RetryAfter: tt.wait}
		assert.Equal(t, tt.want, res.RetryAfterSeconds(), tt.wait.String())
	}
}
