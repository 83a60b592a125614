package vault

import "errors"

// Stable sentinels surfaced to callers. The short messages mirror the revert
// strings holders of the on-chain wrapper already match on.
var (
	// ErrInvalidCaller rejects transfer hooks from anything other than the
	// registry currently trusted through the beacon.
	ErrInvalidCaller = errors.New("Invalid caller")

	// ErrInvalidAsset rejects fCash ids that do not match the vault's own
	// (currency, maturity) pair.
	ErrInvalidAsset = errors.New("Invalid asset")

	// ErrBatchNotAccepted rejects batch fCash transfers outright.
	ErrBatchNotAccepted = errors.New("Not accepted")

	// ErrInvalidReceiver rejects the zero address as a share receiver.
	ErrInvalidReceiver = errors.New("Invalid receiver")

	// ErrSlippage rejects trades whose realized implied rate breaches the
	// caller's bound.
	ErrSlippage = errors.New("Trade failed, slippage")

	// ErrMatured rejects operations that require an active market.
	ErrMatured = errors.New("Matured")

	// ErrMaxDeposit rejects deposits once the deposit capacity is zero.
	ErrMaxDeposit = errors.New("Max Deposit")
)
