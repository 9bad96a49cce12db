package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/decision"
)

func TestNextStep(t *testing.T) {
	var sell, buy []Step
	for s := StepValidateFormat; s != StepDone; s = NextStep(s, OrderTypeShortSell) {
		sell = append(sell, s)
	}
	for s := StepValidateFormat; s != StepDone; s = NextStep(s, OrderTypeBuy) {
		buy = append(buy, s)
	}
	assert.Equal(t, []Step{StepValidateFormat, StepCheckClientLimit, StepCheckAggregationUnitLimit, StepApproveAndUpdateLimits}, sell)
	assert.Equal(t, []Step{StepValidateFormat}, buy)
}

func TestTerminalRecordIsImmutable(t *testing.T) {
	now := time.Now()
	v := NewOrderValidation("V1", Order{OrderID: "O1", OrderType: OrderTypeShortSell, Quantity: decimal.NewFromInt(10)}, now)
	require.NoError(t, v.Reject(decision.ReasonInsufficientClientLimit, 12*time.Millisecond, now))
	assert.Equal(t, int64(12), v.ProcessingTimeMs)

	err := v.Approve(time.Millisecond, now)
	assert.True(t, decision.IsStateError(err))
	assert.Equal(t, StatusRejected, v.Status)

	out := v.Outputs()
	assert.False(t, out.Approved)
	require.NotNil(t, out.RejectionReason)
	assert.Equal(t, "INSUFFICIENT_CLIENT_LIMIT", *out.RejectionReason)
}

func TestOutputsForBuy(t *testing.T) {
	now := time.Now()
	v := NewOrderValidation("V1", Order{OrderID: "O1", OrderType: OrderTypeBuy, Quantity: decimal.NewFromInt(10)}, now)
	require.NoError(t, v.Approve(0, now))
	out := v.Outputs()
	assert.True(t, out.Approved)
	assert.True(t, out.ApprovedQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, out.DecrementQuantity.IsZero())
	assert.False(t, v.ConsumesLimits())
}
