package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorFormatting(t *testing.T) {
	plain := New(ErrSettlementConfig, "no reward tiers configured", nil)
	assert.Equal(t, "[SETTLEMENT_CONFIG_ERROR] no reward tiers configured", plain.Error())

	wrapped := New(ErrChainRead, "getLeaderboard failed", stderrors.New("dial tcp: refused"))
	assert.Equal(t, "[CHAIN_READ_ERROR] getLeaderboard failed: dial tcp: refused", wrapped.Error())
}

func TestCodeMatching(t *testing.T) {
	cause := stderrors.New("boom")
	err := fmt.Errorf("settle 7: %w", New(ErrInsufficientCustodialFunds, "custodial balance too low", cause))

	assert.Equal(t, ErrInsufficientCustodialFunds, CodeOf(err))
	assert.True(t, HasCode(err, ErrInsufficientCustodialFunds))
	assert.False(t, HasCode(err, ErrFunding))
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "", CodeOf(cause))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		code  string
		fatal bool
	}{
		{ErrSettlementConfig, true},
		{ErrAlreadySettled, true},
		{ErrInsufficientCustodialFunds, true},
		{ErrChainRead, true},
		{ErrPayout, false},
		{ErrLedgerWrite, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(New(tt.code, "x", nil)))
		})
	}
}
