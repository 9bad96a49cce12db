package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/decision"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCancelled, true},
		{StatusApproved, StatusExpired, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusExpired, StatusApproved, false},
		{StatusPending, StatusExpired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestApproveInvariants(t *testing.T) {
	now := time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	newReq := func() *LocateRequest {
		return NewLocateRequest("L1", "SEC-A", "U1", "C1", "", LocateTypeShortSell, decimal.NewFromInt(1000), false, now)
	}

	r := newReq()
	err := r.Approve(&Approval{ApprovedQuantity: decimal.NewFromInt(1001), DecrementQuantity: decimal.NewFromInt(1), ApprovalTimestamp: now})
	assert.Error(t, err, "approved above requested")
	assert.Equal(t, StatusPending, r.Status)

	err = r.Approve(&Approval{ApprovedQuantity: decimal.NewFromInt(500), DecrementQuantity: decimal.NewFromInt(600), ApprovalTimestamp: now})
	assert.Error(t, err, "decrement above approved")

	require.NoError(t, r.Approve(&Approval{ApprovedQuantity: decimal.NewFromInt(1000), DecrementQuantity: decimal.NewFromInt(400),
		ApprovalTimestamp: now, ExpiryDate: now.AddDate(0, 0, 3)}))
	assert.True(t, r.Approval.RemainingQuantity().Equal(decimal.NewFromInt(600)))

	err = r.Reject(&Rejection{Reason: decision.ReasonInsufficientInventory, RejectionTimestamp: now})
	assert.True(t, decision.IsStateError(err))
	assert.Nil(t, r.Rejection, "never both")

	assert.Error(t, r.Expire(now.AddDate(0, 0, 1)))
	require.NoError(t, r.Expire(now.AddDate(0, 0, 3)))
	assert.Equal(t, StatusExpired, r.Status)

	c := newReq()
	require.NoError(t, c.Cancel(now))
	assert.True(t, decision.IsStateError(c.Cancel(now)))
}

func TestFractionPolicy(t *testing.T) {
	p, err := NewFractionPolicy(map[string]string{"gc": "0.25", "HTB": "1"})
	require.NoError(t, err)

	assert.True(t, p.DecrementFor("GC", decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(250)))
	assert.True(t, p.DecrementFor("HTB", decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1000)))
	assert.True(t, p.DecrementFor("COLD", decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1000)), "unconfigured is full")
	assert.True(t, FullDecrement().DecrementFor("GC", decimal.NewFromInt(7)).Equal(decimal.NewFromInt(7)))

	_, err = NewFractionPolicy(map[string]string{"GC": "1.5"})
	assert.Error(t, err)
	_, err = NewFractionPolicy(map[string]string{"GC": "half"})
	assert.Error(t, err)
}
