package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal string such as "0.01" to base units with the
// given number of decimals. Fractional base units are rejected.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseEther converts an ether amount to wei.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, 18)
}

// FormatUnits renders base units as a decimal string.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// Units returns whole * 10^decimals.
func Units(whole int64, decimals int32) *big.Int {
	return decimal.New(whole, decimals).BigInt()
}
