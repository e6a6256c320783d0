package escrow

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseUnits converts a human readable decimal amount ("12.5") into minor
// units of an asset with the given precision.
func ParseUnits(value string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	if strings.ContainsAny(trimmed, "eE") {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.IsNegative() {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	minor := parsed.Shift(int32(decimals))
	if !minor.IsInteger() {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", value, decimals)
	}
	out, overflow := uint256.FromBig(minor.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", value)
	}
	return out, nil
}

// FormatUnits renders minor units as a decimal string without trailing zeros.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
