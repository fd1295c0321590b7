package fulfillment

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const rateDecimals = 18

var tenPow18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(rateDecimals), nil)

// ComputeTokenAmount converts a settled source amount (USDC smallest
// units) into patron smallest units. The source is first scaled up to
// the patron's decimal precision, then multiplied by the rate held in
// 18-decimal fixed point. Integer arithmetic throughout; the final
// division truncates toward zero.
func ComputeTokenAmount(destAmount *big.Int, srcDecimals, dstDecimals int, rate18 *big.Int) (*big.Int, error) {
	if dstDecimals < srcDecimals {
		return nil, configf("patron decimals (%d) must be >= source decimals (%d)", dstDecimals, srcDecimals)
	}
	if destAmount == nil {
		return nil, validationf("destination amount is required")
	}
	if rate18 == nil || rate18.Sign() <= 0 {
		return nil, configf("rate must be positive")
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dstDecimals-srcDecimals)), nil)
	scaled := new(big.Int).Mul(destAmount, scale)

	out := new(big.Int).Mul(scaled, rate18)
	out.Quo(out, tenPow18)

	if out.Sign() <= 0 {
		return nil, validationf("computed patron amount is zero")
	}
	return out, nil
}

// ParseRate turns a decimal rate string into 18-decimal fixed point.
func ParseRate(s string) (*big.Int, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return nil, configf("invalid rate %q: %v", s, err)
	}
	if !rate.IsPositive() {
		return nil, configf("rate must be positive, got %s", s)
	}
	return rate.Shift(rateDecimals).BigInt(), nil
}

// MintAmount computes patron smallest units for a direct mint request:
// usdAmount * rate, expressed at the token's decimal precision.
// Fractional dust below the smallest unit is truncated.
func MintAmount(usdAmount string, rate decimal.Decimal, decimals int) (decimal.Decimal, *big.Int, error) {
	usd, err := decimal.NewFromString(usdAmount)
	if err != nil {
		return decimal.Zero, nil, validationf("invalid usdAmount %q", usdAmount)
	}
	if !usd.IsPositive() {
		return decimal.Zero, nil, validationf("usdAmount must be positive, got %s", usd)
	}
	if !rate.IsPositive() {
		return decimal.Zero, nil, configf("rate must be positive")
	}

	patron := usd.Mul(rate)
	wei := patron.Shift(int32(decimals)).Truncate(0).BigInt()
	if wei.Sign() <= 0 {
		return decimal.Zero, nil, validationf("computed patron amount is zero")
	}
	return patron, wei, nil
}
