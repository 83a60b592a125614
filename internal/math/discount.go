package math

import (
	"fmt"
	"math/big"

	"github.com/ckoopmann/wrapped-fcash/internal/fcash"
)

// Money-market discounting over a 360-day year. All amounts are 8-decimal
// internal fixed point; rates are 9-decimal annualized fixed point.
//
//	pv = notional * (R*Y) / (R*Y + rate*t)
//	fv = cash     * (R*Y + rate*t) / (R*Y)
//
// where R = RatePrecision, Y = SecondsInYear, t = seconds to maturity.

// PresentValue discounts a notional due in secondsToMaturity at annualRate.
// Rounds down so the discounted side never overpays.
func PresentValue(notional int64, annualRate int64, secondsToMaturity int64) (int64, error) {
	if notional < 0 || annualRate < 0 || secondsToMaturity < 0 {
		return 0, fmt.Errorf("present value inputs must be non-negative")
	}
	if secondsToMaturity == 0 || annualRate == 0 {
		return notional, nil
	}

	base := MultiplyInt256(fcash.RatePrecision, fcash.SecondsInYear)
	defer putInt256(base)
	accrual := MultiplyInt256(annualRate, secondsToMaturity)
	defer putInt256(accrual)

	num := new(big.Int).Mul(big.NewInt(notional), base)
	denom := new(big.Int).Add(base, accrual)

	num.Quo(num, denom)
	if !num.IsInt64() {
		return 0, fmt.Errorf("present value overflow")
	}
	return num.Int64(), nil
}

// FutureValue is the inverse of PresentValue: the notional purchasable with
// cash at annualRate. Rounds down.
func FutureValue(cash int64, annualRate int64, secondsToMaturity int64) (int64, error) {
	if cash < 0 || annualRate < 0 || secondsToMaturity < 0 {
		return 0, fmt.Errorf("future value inputs must be non-negative")
	}
	if secondsToMaturity == 0 || annualRate == 0 {
		return cash, nil
	}

	base := MultiplyInt256(fcash.RatePrecision, fcash.SecondsInYear)
	defer putInt256(base)
	accrual := MultiplyInt256(annualRate, secondsToMaturity)
	defer putInt256(accrual)

	num := new(big.Int).Add(base, accrual)
	num.Mul(num, big.NewInt(cash))
	num.Quo(num, base)
	if !num.IsInt64() {
		return 0, fmt.Errorf("future value overflow")
	}
	return num.Int64(), nil
}

// ImpliedAnnualRate recovers the annualized rate from a (notional, cost)
// pair: rate = (notional - cost) * R * Y / (cost * t).
func ImpliedAnnualRate(notional, cost int64, secondsToMaturity int64) (int64, error) {
	if cost <= 0 || notional < cost || secondsToMaturity <= 0 {
		return 0, fmt.Errorf("implied rate undefined for notional=%d cost=%d t=%d", notional, cost, secondsToMaturity)
	}

	num := MultiplyInt256(notional-cost, fcash.RatePrecision)
	defer putInt256(num)
	num.Mul(num, big.NewInt(fcash.SecondsInYear))

	denom := MultiplyInt256(cost, secondsToMaturity)
	defer putInt256(denom)

	out := new(big.Int).Quo(num, denom)
	if !out.IsInt64() {
		return 0, fmt.Errorf("implied rate overflow")
	}
	return out.Int64(), nil
}
