package decision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConflictThenSuccess(t *testing.T) {
	calls, retries := 0, 0
	v, err := Retry(context.Background(), DefaultRetryPolicy(), func(error) { retries++ }, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Conflict(nil)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, nil,
		func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, Transient(ReasonLimitServiceUnavailable, ErrUnavailable)
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, ReasonLimitServiceUnavailable, ReasonFor(err, ReasonInternalError))
}

func TestRetryPermanentErrorNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Retry(context.Background(), DefaultRetryPolicy(), nil, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback Reason
		want     Reason
	}{
		{"conflict", Conflict(nil), ReasonLimitServiceUnavailable, ReasonConcurrencyConflict},
		{"wrapped conflict", fmt.Errorf("save: %w", ErrVersionConflict), ReasonNone, ReasonConcurrencyConflict},
		{"transient keeps own reason", Transient(ReasonInventoryServiceUnavailable, ErrUnavailable), ReasonLimitServiceUnavailable, ReasonInventoryServiceUnavailable},
		{"deadline", context.DeadlineExceeded, ReasonLimitServiceUnavailable, ReasonLimitServiceUnavailable},
		{"unknown", errors.New("x"), ReasonLimitServiceUnavailable, ReasonInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonFor(tt.err, tt.fallback))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindState, KindOf(NewStateError("locate %s", "L1")))
	assert.True(t, IsStateError(fmt.Errorf("wrap: %w", NewStateError("x"))))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindValidation, false},
		{KindCapacity, false},
		{KindTransient, true},
		{KindConflict, true},
		{KindState, false},
		{Kind(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Retryable())
		})
	}
}

func TestRetryStateErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(), nil, func(context.Context) (int, error) {
		calls++
		return 0, NewStateError("done")
	})
	assert.True(t, IsStateError(err))
	assert.Equal(t, 1, calls)
}

func TestCalendar(t *testing.T) {
	cal, err := NewCalendar("UTC", []string{"2026-03-09"})
	require.NoError(t, err)

	fri := time.Date(2026, 3, 6, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-06", cal.BusinessDate(fri))
	assert.True(t, cal.IsBusinessDay(fri))
	assert.False(t, cal.IsBusinessDay(fri.AddDate(0, 0, 1)))

	// 周末与周一节假日均跳过
	next := cal.NextBusinessDay(fri)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), next)

	_, err = NewCalendar("Nowhere/Void", nil)
	assert.Error(t, err)
	_, err = NewCalendar("", []string{"03/09/2026"})
	assert.Error(t, err)
}
