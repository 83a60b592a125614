// Package vault implements the wrapper vault: a fungible 8-decimal share
// token over a single (currency, maturity) fCash position held with the
// market registry. Shares are minted 1:1 against fCash notional and redeemed
// against the vault's position, with post-maturity redemptions paid out of
// settled cash.
package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/ckoopmann/wrapped-fcash/internal/beacon"
	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/fcash"
	"github.com/ckoopmann/wrapped-fcash/internal/ledger"
	"github.com/ckoopmann/wrapped-fcash/internal/observability"
	"github.com/ckoopmann/wrapped-fcash/internal/registry"
)

// State of the maturity lifecycle.
const (
	StateActive  = "ACTIVE"
	StateMatured = "MATURED"
	StateSettled = "SETTLED"
)

// Vault wraps one fCash position into fungible shares. The registry is
// re-resolved through the beacon on every call and never cached, so a beacon
// upgrade retargets the vault immediately.
//
// Not goroutine-safe. The daemon serializes all vault entry points behind a
// single lock.
type Vault struct {
	addr       common.Address
	currencyID uint16
	maturity   uint64
	fCashID    *uint256.Int

	name             string
	symbol           string
	underlyingSymbol string

	resolver  beacon.Resolver
	clock     registry.Clock
	shares    *ledger.ShareBook
	validator *ledger.InvariantValidator

	sink    event.Sink
	metrics *observability.Metrics
	log     zerolog.Logger

	settled bool
}

// New constructs a vault over (currencyID, maturity). The currency must be
// listed with the registry currently behind the resolver.
func New(addr common.Address, currencyID uint16, maturity uint64, resolver beacon.Resolver, clock registry.Clock, sink event.Sink, metrics *observability.Metrics, log zerolog.Logger) (*Vault, error) {
	if resolver == nil {
		return nil, fmt.Errorf("vault: nil resolver")
	}
	if clock == nil {
		clock = registry.SystemClock{}
	}

	cur, err := resolver.Registry().GetCurrency(currencyID)
	if err != nil {
		return nil, err
	}

	id, err := fcash.FCashID(currencyID, maturity)
	if err != nil {
		return nil, err
	}

	shares := ledger.NewShareBook()
	v := &Vault{
		addr:             addr,
		currencyID:       currencyID,
		maturity:         maturity,
		fCashID:          id,
		name:             fmt.Sprintf("Wrapped f%s @ %d", cur.Symbol, maturity),
		symbol:           fmt.Sprintf("wf%s:%d", cur.Symbol, maturity),
		underlyingSymbol: cur.Symbol,
		resolver:         resolver,
		clock:            clock,
		shares:           shares,
		validator:        ledger.NewInvariantValidator(shares),
		sink:             sink,
		metrics:          metrics,
		log:              log.With().Str("vault", fmt.Sprintf("wf%s:%d", cur.Symbol, maturity)).Logger(),
	}
	return v, nil
}

func (v *Vault) Address() common.Address { return v.addr }
func (v *Vault) Name() string            { return v.name }
func (v *Vault) Symbol() string          { return v.symbol }
func (v *Vault) Decimals() int           { return fcash.Decimals }
func (v *Vault) CurrencyID() uint16      { return v.currencyID }
func (v *Vault) Maturity() uint64        { return v.maturity }

// FCashID returns a copy of the vault's ERC1155 asset id.
func (v *Vault) FCashID() *uint256.Int { return new(uint256.Int).Set(v.fCashID) }

// HasMatured reports whether block time has reached the maturity.
func (v *Vault) HasMatured() bool {
	return uint64(v.clock.Now().Unix()) >= v.maturity
}

// State reports the maturity lifecycle stage.
func (v *Vault) State() string {
	if !v.HasMatured() {
		return StateActive
	}
	if v.settled {
		return StateSettled
	}
	return StateMatured
}

// MarketIndex returns the vault market's 1-based index among the currency's
// active maturities. Fails once the market has matured off the active list.
func (v *Vault) MarketIndex() (int, error) {
	markets, err := v.resolver.Registry().GetActiveMarkets(v.currencyID)
	if err != nil {
		return 0, err
	}
	for _, m := range markets {
		if m.Maturity == v.maturity {
			return m.MarketIndex, nil
		}
	}
	return 0, fmt.Errorf("market %d/%d not active", v.currencyID, v.maturity)
}

// --- share token surface ---

func (v *Vault) BalanceOf(holder common.Address) int64 { return v.shares.BalanceOf(holder) }
func (v *Vault) TotalSupply() int64                    { return v.shares.TotalSupply() }
func (v *Vault) Allowance(owner, spender common.Address) int64 {
	return v.shares.Allowance(owner, spender)
}

func (v *Vault) Approve(owner, spender common.Address, amount int64) error {
	if err := v.shares.Approve(owner, spender, amount); err != nil {
		return err
	}
	v.emit(event.TypeSharesApproved, event.SharesApproved{Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// Transfer moves shares between holders.
func (v *Vault) Transfer(from, to common.Address, amount int64) error {
	batch := ledger.NewBatch("transfer", v.clock.Now().Unix())
	ledger.NewEntry(batch, ledger.EntryTransfer, from, to, amount)
	if err := v.shares.ApplyBatch(batch); err != nil {
		return err
	}
	v.emit(event.TypeSharesTransferred, event.SharesTransferred{From: from, To: to, Amount: amount})
	return nil
}

// TransferFrom moves shares on the owner's behalf, spending the spender's
// allowance by exactly amount.
func (v *Vault) TransferFrom(spender, from, to common.Address, amount int64) error {
	if spender != from {
		if err := v.shares.ConsumeAllowance(from, spender, amount); err != nil {
			return err
		}
	}
	if err := v.Transfer(from, to, amount); err != nil {
		if spender != from {
			// Restore the consumed allowance so a failed transfer has no
			// observable effect.
			v.shares.Approve(from, spender, v.shares.Allowance(from, spender)+amount)
		}
		return err
	}
	return nil
}

// --- fCash transfer hooks ---

// OnFCashReceived accepts a direct fCash transfer and mints shares 1:1 to the
// sender. A non-empty data payload is forwarded to the registry as a protocol
// action after the mint; if the action fails the mint is compensated and the
// whole transfer rolls back.
func (v *Vault) OnFCashReceived(caller, from common.Address, id *uint256.Int, amount int64, data []byte) error {
	reg := v.resolver.Registry()
	if caller != reg.Address() {
		return ErrInvalidCaller
	}
	if id == nil || !id.Eq(v.fCashID) {
		return ErrInvalidAsset
	}
	if v.HasMatured() {
		return ErrMatured
	}

	if err := v.mintShares("onFCashReceived", from, amount); err != nil {
		return err
	}

	if len(data) > 0 {
		if err := reg.Invoke(data); err != nil {
			v.burnShares("onFCashReceived.compensate", from, amount)
			return err
		}
	}

	v.emit(event.TypeSharesMinted, event.SharesMinted{Receiver: from, Amount: amount, Path: "transfer"})
	v.countMint("transfer")
	v.log.Info().Str("from", from.Hex()).Int64("amount", amount).Msg("shares minted via transfer")
	return nil
}

// OnFCashBatchReceived rejects batch transfers. The vault wraps exactly one
// asset id; batches are refused rather than partially accepted.
func (v *Vault) OnFCashBatchReceived(caller, from common.Address, ids []*uint256.Int, amounts []int64, data []byte) error {
	return ErrBatchNotAccepted
}

// --- minting ---

// MintViaUnderlying lends underlying tokens for fCashAmount notional and
// mints that many shares to receiver. The lend cost is pulled from `from`,
// which must have approved the vault; depositMax caps the spend.
// minImpliedRate below the realized rate fails the trade.
func (v *Vault) MintViaUnderlying(from common.Address, depositMax *big.Int, fCashAmount int64, receiver common.Address, minImpliedRate int64) (*big.Int, error) {
	return v.mintViaLend(from, depositMax, fCashAmount, receiver, minImpliedRate, true, "underlying")
}

// MintViaAsset is MintViaUnderlying funded with asset tokens.
func (v *Vault) MintViaAsset(from common.Address, depositMax *big.Int, fCashAmount int64, receiver common.Address, minImpliedRate int64) (*big.Int, error) {
	return v.mintViaLend(from, depositMax, fCashAmount, receiver, minImpliedRate, false, "asset")
}

func (v *Vault) mintViaLend(from common.Address, depositMax *big.Int, fCashAmount int64, receiver common.Address, minImpliedRate int64, useUnderlying bool, path string) (*big.Int, error) {
	if fCashAmount <= 0 {
		return nil, fmt.Errorf("fCash amount must be positive")
	}
	// Shares minted to the zero address would be unredeemable. Refuse
	// before any funds move.
	if receiver == (common.Address{}) {
		return nil, ErrInvalidReceiver
	}
	if v.HasMatured() {
		return nil, ErrMatured
	}

	reg := v.resolver.Registry()

	cost, rate, err := v.previewLendCost(reg, fCashAmount, useUnderlying)
	if err != nil {
		return nil, err
	}
	if minImpliedRate > 0 && rate < minImpliedRate {
		v.countSlippage("lend")
		return nil, fmt.Errorf("%w: implied rate %d below minimum %d", ErrSlippage, rate, minImpliedRate)
	}
	if depositMax != nil && cost.Cmp(depositMax) > 0 {
		v.countSlippage("lend")
		return nil, fmt.Errorf("%w: cost %s exceeds deposit limit %s", ErrSlippage, cost, depositMax)
	}

	cur, err := reg.GetCurrency(v.currencyID)
	if err != nil {
		return nil, err
	}
	token := cur.Underlying
	if !useUnderlying {
		token = cur.AssetToken
	}

	// Pull the exact cost, hand the venue an allowance for it, lend from the
	// vault's own account. The position lands in the vault's portfolio and
	// custody returns to zero.
	if err := token.TransferFrom(v.addr, from, v.addr, cost); err != nil {
		return nil, err
	}
	token.Approve(v.addr, reg.Address(), cost)

	if useUnderlying {
		_, _, err = reg.LendWithUnderlying(v.addr, v.currencyID, v.maturity, fCashAmount)
	} else {
		_, _, err = reg.LendWithAsset(v.addr, v.currencyID, v.maturity, fCashAmount)
	}
	if err != nil {
		token.Transfer(v.addr, from, cost)
		token.Approve(v.addr, reg.Address(), big.NewInt(0))
		return nil, err
	}

	if err := v.mintShares("mint/"+path, receiver, fCashAmount); err != nil {
		return nil, err
	}

	v.emit(event.TypeSharesMinted, event.SharesMinted{Receiver: receiver, Amount: fCashAmount, Path: path})
	v.countMint(path)
	v.log.Info().
		Str("from", from.Hex()).
		Str("receiver", receiver.Hex()).
		Int64("fcash", fCashAmount).
		Str("cost", cost.String()).
		Int64("rate", rate).
		Str("path", path).
		Msg("shares minted")
	return cost, nil
}

func (v *Vault) previewLendCost(reg registry.Registry, fCashAmount int64, useUnderlying bool) (*big.Int, int64, error) {
	cost, rate, err := reg.PreviewLend(v.currencyID, v.maturity, fCashAmount)
	if err != nil {
		return nil, 0, err
	}
	if useUnderlying {
		return cost, rate, nil
	}
	assetCost, err := reg.ConvertUnderlyingToAsset(v.currencyID, cost)
	if err != nil {
		return nil, 0, err
	}
	return assetCost, rate, nil
}


// --- redemption ---

// RedeemOpts selects the redemption path.
type RedeemOpts struct {
	// RedeemToUnderlying pays proceeds in the underlying token rather than
	// the asset token. Ignored when TransferFCash is set.
	RedeemToUnderlying bool
	// TransferFCash sends the raw fCash position to Receiver instead of
	// selling it. Only valid before maturity.
	TransferFCash bool
	Receiver      common.Address
	// MaxImpliedRate caps the realized borrow rate for pre-maturity sales.
	// Zero disables the guard.
	MaxImpliedRate int64
}

// RedeemToUnderlying burns shares and pays underlying to receiver.
func (v *Vault) RedeemToUnderlying(owner common.Address, shares int64, receiver common.Address, maxImpliedRate int64) (*big.Int, error) {
	return v.Redeem(owner, shares, RedeemOpts{RedeemToUnderlying: true, Receiver: receiver, MaxImpliedRate: maxImpliedRate})
}

// RedeemToAsset burns shares and pays asset tokens to receiver.
func (v *Vault) RedeemToAsset(owner common.Address, shares int64, receiver common.Address, maxImpliedRate int64) (*big.Int, error) {
	return v.Redeem(owner, shares, RedeemOpts{Receiver: receiver, MaxImpliedRate: maxImpliedRate})
}

// Redeem burns the owner's shares and pays out per opts. Before maturity the
// position is sold back to the market (or transferred raw); after maturity
// the vault settles lazily and pays a pro-rata slice of its cash balance.
func (v *Vault) Redeem(owner common.Address, shares int64, opts RedeemOpts) (*big.Int, error) {
	if shares <= 0 {
		return nil, fmt.Errorf("share amount must be positive")
	}

	reg := v.resolver.Registry()

	if opts.TransferFCash {
		return v.redeemViaTransfer(reg, owner, shares, opts.Receiver)
	}
	if v.HasMatured() {
		return v.redeemMatured(reg, owner, shares, opts)
	}
	return v.redeemActive(reg, owner, shares, opts)
}

func (v *Vault) redeemViaTransfer(reg registry.Registry, owner common.Address, shares int64, receiver common.Address) (*big.Int, error) {
	if v.HasMatured() {
		return nil, ErrMatured
	}

	// Burn before the external transfer; compensate if the registry refuses.
	if err := v.burnShares("redeem", owner, shares); err != nil {
		return nil, err
	}
	if err := reg.SafeTransferFrom(v.addr, receiver, v.fCashID, shares, nil); err != nil {
		v.mintShares("redeem.compensate", owner, shares)
		return nil, err
	}

	v.emit(event.TypeSharesRedeemed, event.SharesRedeemed{
		Owner: owner, Receiver: receiver, Amount: shares,
		Denomination: "fcash", Proceeds: fmt.Sprintf("%d", shares),
	})
	v.countRedeem("fcash", StateActive)
	return big.NewInt(shares), nil
}

func (v *Vault) redeemActive(reg registry.Registry, owner common.Address, shares int64, opts RedeemOpts) (*big.Int, error) {
	_, rate, err := reg.PreviewBorrow(v.currencyID, v.maturity, shares)
	if err != nil {
		return nil, err
	}
	if opts.MaxImpliedRate > 0 && rate > opts.MaxImpliedRate {
		v.countSlippage("borrow")
		return nil, fmt.Errorf("%w: implied rate %d above maximum %d", ErrSlippage, rate, opts.MaxImpliedRate)
	}

	if err := v.burnShares("redeem", owner, shares); err != nil {
		return nil, err
	}
	proceeds, _, err := reg.BorrowAndWithdraw(v.addr, v.currencyID, v.maturity, shares, opts.RedeemToUnderlying, opts.Receiver)
	if err != nil {
		v.mintShares("redeem.compensate", owner, shares)
		return nil, err
	}

	v.emit(event.TypeSharesRedeemed, event.SharesRedeemed{
		Owner: owner, Receiver: opts.Receiver, Amount: shares,
		Denomination: denomination(opts.RedeemToUnderlying), Proceeds: proceeds.String(),
	})
	v.countRedeem(denomination(opts.RedeemToUnderlying), StateActive)
	v.log.Info().
		Str("owner", owner.Hex()).
		Int64("shares", shares).
		Str("proceeds", proceeds.String()).
		Msg("shares redeemed")
	return proceeds, nil
}

func (v *Vault) redeemMatured(reg registry.Registry, owner common.Address, shares int64, opts RedeemOpts) (*big.Int, error) {
	if err := v.ensureSettled(reg); err != nil {
		return nil, err
	}

	supply := v.shares.TotalSupply()
	if supply <= 0 {
		return nil, fmt.Errorf("%w: no shares outstanding", ledger.ErrInsufficientBalance)
	}

	// Pro-rata slice of the remaining settled cash. big.Int because
	// cash*shares can exceed int64.
	cash := reg.CashBalance(v.addr, v.currencyID)
	slice := new(big.Int).Mul(big.NewInt(cash), big.NewInt(shares))
	slice.Quo(slice, big.NewInt(supply))
	cashShare := slice.Int64()

	if err := v.burnShares("redeem", owner, shares); err != nil {
		return nil, err
	}

	if cashShare <= 0 {
		v.countRedeem(denomination(opts.RedeemToUnderlying), StateSettled)
		return big.NewInt(0), nil
	}

	proceeds, err := reg.WithdrawCash(v.addr, v.currencyID, cashShare, opts.RedeemToUnderlying, opts.Receiver)
	if err != nil {
		v.mintShares("redeem.compensate", owner, shares)
		return nil, err
	}

	v.emit(event.TypeSharesRedeemed, event.SharesRedeemed{
		Owner: owner, Receiver: opts.Receiver, Amount: shares,
		Denomination: denomination(opts.RedeemToUnderlying), Matured: true, Proceeds: proceeds.String(),
	})
	v.countRedeem(denomination(opts.RedeemToUnderlying), StateSettled)
	return proceeds, nil
}

// ensureSettled converts the vault's matured position to cash exactly once.
func (v *Vault) ensureSettled(reg registry.Registry) error {
	if v.settled {
		return nil
	}
	if err := reg.SettleAccount(v.addr); err != nil {
		return err
	}
	v.settled = true

	cash := reg.CashBalance(v.addr, v.currencyID)
	v.emit(event.TypeVaultSettled, event.VaultSettled{CashBalance: cash})
	if v.metrics != nil {
		v.metrics.SettlementsTriggered.Inc()
	}
	v.log.Info().Int64("cash", cash).Msg("vault settled")
	return nil
}

// --- internals ---

func (v *Vault) mintShares(op string, receiver common.Address, amount int64) error {
	batch := ledger.NewBatch(op, v.clock.Now().Unix())
	ledger.NewEntry(batch, ledger.EntryMint, ledger.ZeroAddress, receiver, amount)
	if err := v.shares.ApplyBatch(batch); err != nil {
		return err
	}
	v.checkInvariants(op)
	v.gaugeSupply()
	return nil
}

func (v *Vault) burnShares(op string, owner common.Address, amount int64) error {
	batch := ledger.NewBatch(op, v.clock.Now().Unix())
	ledger.NewEntry(batch, ledger.EntryBurn, owner, ledger.ZeroAddress, amount)
	if err := v.shares.ApplyBatch(batch); err != nil {
		return err
	}
	v.checkInvariants(op)
	v.gaugeSupply()
	return nil
}

// checkInvariants panics on a corrupted share book. A violation here means a
// bug in the ledger itself, not bad input; continuing would mint or destroy
// value silently.
func (v *Vault) checkInvariants(op string) {
	if err := v.validator.ValidateSupplyConsistent(); err != nil {
		panic(fmt.Sprintf("vault %s: %s: %v", v.symbol, op, err))
	}
}

func (v *Vault) emit(t event.Type, payload any) {
	if v.sink == nil {
		return
	}
	v.sink.Emit(event.New(t, v.currencyID, v.maturity, v.addr, payload, v.clock.Now()))
	if v.metrics != nil {
		v.metrics.EventsEmitted.WithLabelValues(t.String()).Inc()
	}
}

func (v *Vault) gaugeSupply() {
	if v.metrics != nil {
		v.metrics.VaultShareSupply.WithLabelValues(v.symbol).Set(float64(v.shares.TotalSupply()))
	}
}

func (v *Vault) countMint(path string) {
	if v.metrics != nil {
		v.metrics.SharesMinted.WithLabelValues(v.symbol, path).Inc()
	}
}

func (v *Vault) countRedeem(denom, state string) {
	if v.metrics != nil {
		v.metrics.SharesRedeemed.WithLabelValues(v.symbol, denom, state).Inc()
	}
}

func (v *Vault) countSlippage(side string) {
	if v.metrics != nil {
		v.metrics.SlippageRejections.WithLabelValues(v.symbol, side).Inc()
	}
}

func denomination(toUnderlying bool) string {
	if toUnderlying {
		return "underlying"
	}
	return "asset"
}

