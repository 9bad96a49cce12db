package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/securitieslending/internal/inventory/domain"
)

func TestDecrementOutcome(t *testing.T) {
	tests := []struct {
		name      string
		res       []int64
		available string
		ok        bool
		err       error
	}{
		{"decremented", []int64{1, 45_000_000}, "4500", true, nil},
		{"insufficient", []int64{0, 5_000_000}, "500", false, nil},
		{"missing key", []int64{-1, 0}, "0", false, domain.ErrInventoryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			available, ok, err := decrementOutcome(tt.res)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.available, available.String())
		})
	}

	_, _, err := decrementOutcome([]int64{1})
	assert.Error(t, err)
}
