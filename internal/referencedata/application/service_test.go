package application

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	"github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/memory"
)

type recordingInvalidator struct {
	keys []string
}

func (r *recordingInvalidator) Invalidate(kind, id string) {
	r.keys = append(r.keys, kind+":"+id)
}

func TestReferenceDataService(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	svc := NewReferenceDataService(memory.NewReferenceRepository(), nil, inv, slog.Default())

	require.NoError(t, svc.SaveSecurity(ctx, &domain.Security{
		SecurityID: "SEC-A", Symbol: "AAA", Market: "XNYS", Active: true,
		Temperature: domain.TemperatureHTB, BorrowRate: decimal.RequireFromString("0.035"),
	}))
	require.NoError(t, svc.SaveCounterparty(ctx, &domain.Counterparty{CounterpartyID: "C1", Active: true, LocateEligible: true}))
	require.NoError(t, svc.SaveAggregationUnit(ctx, &domain.AggregationUnit{AggregationUnitID: "AU1", Active: true}))
	assert.Equal(t, []string{"security:SEC-A", "counterparty:C1", "au:AU1"}, inv.keys)

	sec, err := svc.Lookup().GetSecurity(ctx, "SEC-A")
	require.NoError(t, err)
	assert.Equal(t, domain.TemperatureHTB, sec.Temperature)

	cp, err := svc.GetCounterparty(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, cp.Eligible())

	_, err = svc.GetAggregationUnit(ctx, "AU2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("rejects bad security", func(t *testing.T) {
		assert.Error(t, svc.SaveSecurity(ctx, &domain.Security{SecurityID: "X", Temperature: "HOT"}))
		assert.Error(t, svc.SaveSecurity(ctx, &domain.Security{SecurityID: "X", BorrowRate: decimal.NewFromInt(-1)}))
	})
}
