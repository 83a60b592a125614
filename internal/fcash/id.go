// Package fcash defines the identifier encoding and precision constants for
// maturity-dated fixed-rate lending positions.
package fcash

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Fixed-point precision constants. fCash notional and vault shares use 8
// decimal places; annualized rates use 9. Time is measured against a 360-day
// financial year.
const (
	Decimals = 8
	Scale    = int64(100_000_000)

	RateDecimals  = 9
	RatePrecision = int64(1_000_000_000)

	SecondsInYear = int64(360 * 86400)
)

// AssetTypeFCash is the asset type discriminator embedded in token ids.
const AssetTypeFCash uint8 = 1

// Bit layout of a token id:
//
//	bits 48..63  currency id (uint16)
//	bits  8..47  maturity    (uint40, unix seconds)
//	bits  0..7   asset type  (uint8)
const (
	maturityBits = 40
	maxMaturity  = uint64(1)<<maturityBits - 1
)

// EncodeID packs (currencyID, maturity, assetType) into a 256-bit token id.
func EncodeID(currencyID uint16, maturity uint64, assetType uint8) (*uint256.Int, error) {
	if maturity > maxMaturity {
		return nil, fmt.Errorf("maturity %d exceeds 40-bit range", maturity)
	}

	raw := uint64(currencyID)<<48 | maturity<<8 | uint64(assetType)
	return uint256.NewInt(raw), nil
}

// DecodeID unpacks a token id. Ids with bits set above the packed range are
// rejected; they cannot have been produced by EncodeID.
func DecodeID(id *uint256.Int) (currencyID uint16, maturity uint64, assetType uint8, err error) {
	if id == nil {
		return 0, 0, 0, fmt.Errorf("nil token id")
	}
	if !id.IsUint64() {
		return 0, 0, 0, fmt.Errorf("token id %s out of encodable range", id.String())
	}

	raw := id.Uint64()
	currencyID = uint16(raw >> 48)
	maturity = (raw >> 8) & maxMaturity
	assetType = uint8(raw & 0xff)
	return currencyID, maturity, assetType, nil
}

// FCashID is a convenience wrapper for the common case.
func FCashID(currencyID uint16, maturity uint64) (*uint256.Int, error) {
	return EncodeID(currencyID, maturity, AssetTypeFCash)
}
