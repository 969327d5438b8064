package model

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal string into integer base units for a token
// with the given decimal precision. The string must be a plain non-negative
// decimal with at most `decimals` fractional digits.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+") {
		return nil, fmt.Errorf("signed amount: %s", value)
	}

	whole := value
	frac := ""
	if dot := strings.IndexByte(value, '.'); dot >= 0 {
		whole = value[:dot]
		frac = value[dot+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, fmt.Errorf("malformed amount: %s", value)
		}
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("malformed amount: %s", value)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", value, decimals)
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	if digits == "" {
		digits = "0"
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("malformed amount: %s", value)
		}
	}

	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount: %s", value)
	}
	return units, nil
}

// FormatUnits renders integer base units as a decimal string, trimming
// trailing fractional zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	out := whole.String()
	if frac.Sign() > 0 {
		fracStr := frac.String()
		if pad := int(decimals) - len(fracStr); pad > 0 {
			fracStr = strings.Repeat("0", pad) + fracStr
		}
		fracStr = strings.TrimRight(fracStr, "0")
		out += "." + fracStr
	}
	if neg {
		out = "-" + out
	}
	return out
}
