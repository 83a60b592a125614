package math

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ckoopmann/wrapped-fcash/internal/fcash"
)

// Pooled big.Int for intermediate calculations
var int256Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt256() *big.Int {
	return int256Pool.Get().(*big.Int)
}

func putInt256(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int256Pool.Put(v)
}

// MultiplyInt256 performs a * b in arbitrary precision to prevent overflow
func MultiplyInt256(a, b int64) *big.Int {
	result := getInt256()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt256 performs numerator / denominator with rounding
func DivideInt256(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt256()
	remainder := getInt256()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	} else if roundingMode == RoundUp && remainder.Sign() != 0 {
		result++
	}

	putInt256(quotient)
	putInt256(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default)
	RoundUp
	RoundHalfEven // Banker's rounding
)

var pow10 = func() []*big.Int {
	table := make([]*big.Int, 37)
	for i := range table {
		table[i] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(i)), nil)
	}
	return table
}()

// Pow10 returns 10^n as a shared, read-only big.Int.
func Pow10(n int) *big.Int {
	if n < 0 || n >= len(pow10) {
		panic(fmt.Sprintf("pow10 exponent out of range: %d", n))
	}
	return pow10[n]
}

// InternalFromExternal converts a token amount at its native decimal
// precision into the 8-decimal internal representation. Truncates excess
// precision toward zero.
func InternalFromExternal(amount *big.Int, tokenDecimals int) (int64, error) {
	if amount == nil || amount.Sign() < 0 {
		return 0, fmt.Errorf("invalid external amount")
	}

	scaled := new(big.Int).Set(amount)
	switch {
	case tokenDecimals > fcash.Decimals:
		scaled.Quo(scaled, Pow10(tokenDecimals-fcash.Decimals))
	case tokenDecimals < fcash.Decimals:
		scaled.Mul(scaled, Pow10(fcash.Decimals-tokenDecimals))
	}

	if !scaled.IsInt64() {
		return 0, fmt.Errorf("amount %s overflows internal precision", amount.String())
	}
	return scaled.Int64(), nil
}

// ExternalFromInternal converts an 8-decimal internal amount to the token's
// native decimal precision.
func ExternalFromInternal(amount int64, tokenDecimals int) *big.Int {
	out := big.NewInt(amount)
	switch {
	case tokenDecimals > fcash.Decimals:
		out.Mul(out, Pow10(tokenDecimals-fcash.Decimals))
	case tokenDecimals < fcash.Decimals:
		out.Quo(out, Pow10(fcash.Decimals-tokenDecimals))
	}
	return out
}
