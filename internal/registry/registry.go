// Package registry defines the market registry collaborator consumed by the
// vault and factory: the external fixed-rate lending venue that prices
// trades, tracks positions, and settles matured claims. Sim provides an
// in-memory implementation used by the daemon sandbox and tests.
package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Clock abstracts block time so the maturity state machine is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Market is one active (currency, maturity) pair.
type Market struct {
	CurrencyID  uint16
	Maturity    uint64 // unix seconds
	MarketIndex int    // 1-based position among the currency's active maturities
	OracleRate  int64  // annualized, 9-decimal fixed point
}

// Asset is a portfolio position held with the registry.
type Asset struct {
	CurrencyID uint16
	Maturity   uint64
	AssetType  uint8
	Notional   int64 // 8-decimal fixed point, signed
}

// AccountPortfolio is the registry's view of one account.
type AccountPortfolio struct {
	// Settled cash per currency, denominated in asset-token units (8 dp).
	CashBalances map[uint16]int64
	Portfolio    []Asset
}

// Currency describes a listed currency and its token pair.
type Currency struct {
	ID         uint16
	Symbol     string // underlying symbol, e.g. "DAI"
	Underlying *Token
	AssetToken *Token
}

// FCashReceiver is the transfer hook contract interface. The registry calls
// it when fCash is transferred to a registered contract address, passing its
// own address as caller so the receiver can verify trust.
type FCashReceiver interface {
	Address() common.Address
	OnFCashReceived(caller, from common.Address, id *uint256.Int, amount int64, data []byte) error
	OnFCashBatchReceived(caller, from common.Address, ids []*uint256.Int, amounts []int64, data []byte) error
}

// Registry is the surface the core consumes. Amounts follow the data model:
// notional and cash in 8-decimal int64, token amounts in native-precision
// big.Int, rates in 9-decimal int64.
type Registry interface {
	Address() common.Address

	GetCurrency(currencyID uint16) (*Currency, error)
	GetActiveMarkets(currencyID uint16) ([]Market, error)

	GetAccount(addr common.Address) (AccountPortfolio, error)
	BalanceOfFCash(addr common.Address, id *uint256.Int) int64
	CashBalance(addr common.Address, currencyID uint16) int64

	// SettleAccount converts matured fCash positions into settled cash at
	// the asset exchange rate. Callable by anyone, idempotent.
	SettleAccount(addr common.Address) error

	// SafeTransferFrom moves a single fCash asset and invokes the receiver
	// hook if one is registered at `to`. A non-empty data payload is handed
	// to the hook unmodified. The whole operation is atomic: a hook failure
	// rolls back the transfer.
	SafeTransferFrom(from, to common.Address, id *uint256.Int, amount int64, data []byte) error
	SafeBatchTransferFrom(from, to common.Address, ids []*uint256.Int, amounts []int64, data []byte) error

	// Invoke executes an opaque protocol action (e.g. a batch lend) encoded
	// by EncodeBatchLend. Callers forward it without inspection.
	Invoke(data []byte) error

	// Pricing previews. Cost/proceeds are in the underlying token's native
	// precision; the rate is the realized annualized implied rate.
	PreviewLend(currencyID uint16, maturity uint64, notional int64) (cost *big.Int, rate int64, err error)
	PreviewLendGivenUnderlying(currencyID uint16, maturity uint64, underlying *big.Int) (notional int64, err error)
	PreviewBorrow(currencyID uint16, maturity uint64, notional int64) (proceeds *big.Int, rate int64, err error)

	// Trade execution. Lend pulls funding from account (requires a token
	// allowance for the registry); borrow pays the receiver directly.
	LendWithUnderlying(account common.Address, currencyID uint16, maturity uint64, notional int64) (cost *big.Int, rate int64, err error)
	LendWithAsset(account common.Address, currencyID uint16, maturity uint64, notional int64) (assetCost *big.Int, rate int64, err error)
	BorrowAndWithdraw(account common.Address, currencyID uint16, maturity uint64, notional int64, toUnderlying bool, receiver common.Address) (proceeds *big.Int, rate int64, err error)

	// WithdrawCash pays out settled cash (asset units) as asset tokens or
	// underlying at the current exchange rate.
	WithdrawCash(account common.Address, currencyID uint16, cash int64, toUnderlying bool, receiver common.Address) (*big.Int, error)

	// Asset exchange rate conversions at the current block time. Underlying
	// amounts are native precision, asset amounts 8 dp.
	ConvertUnderlyingToAsset(currencyID uint16, underlying *big.Int) (*big.Int, error)
	ConvertAssetToUnderlying(currencyID uint16, asset *big.Int) (*big.Int, error)

	// RegisterContract installs a transfer hook at an address. Called by
	// the factory when it deploys a wrapper.
	RegisterContract(addr common.Address, receiver FCashReceiver)
}
