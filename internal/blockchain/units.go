package blockchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// ToWei converts an ETH amount to wei. Amounts finer than one wei are
// rejected rather than silently rounded.
func ToWei(eth decimal.Decimal) (*big.Int, error) {
	if eth.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", eth.String())
	}
	wei := eth.Shift(weiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", eth.String(), weiDecimals)
	}
	return wei.BigInt(), nil
}

// FromWei converts wei to ETH.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}
