package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	fpmath "github.com/ckoopmann/wrapped-fcash/internal/math"
	"github.com/ckoopmann/wrapped-fcash/internal/registry"
)

// Standard vault surface denominated in the underlying token. Assets are
// native-precision big.Int, shares 8-decimal int64. Deposit-side operations
// require an active market; withdraw-side operations work in every state.

var maxAssets = new(big.Int).Lsh(big.NewInt(1), 255)

const maxShares = int64(1)<<62 - 1

// TotalAssets values the vault's holdings in underlying terms: the present
// value of the fCash position while active, the face value at maturity, and
// the settled cash balance afterwards.
func (v *Vault) TotalAssets() (*big.Int, error) {
	return v.totalAssetsValue(v.resolver.Registry())
}

func (v *Vault) totalAssetsValue(reg registry.Registry) (*big.Int, error) {
	supply := v.shares.TotalSupply()

	if v.settled {
		cash := reg.CashBalance(v.addr, v.currencyID)
		return reg.ConvertAssetToUnderlying(v.currencyID, big.NewInt(cash))
	}
	if supply == 0 {
		return big.NewInt(0), nil
	}
	if v.HasMatured() {
		cur, err := reg.GetCurrency(v.currencyID)
		if err != nil {
			return nil, err
		}
		return fpmath.ExternalFromInternal(supply, cur.Underlying.Decimals()), nil
	}

	proceeds, _, err := reg.PreviewBorrow(v.currencyID, v.maturity, supply)
	if err != nil {
		return nil, err
	}
	return proceeds, nil
}

// ConvertToShares values an underlying amount in shares.
func (v *Vault) ConvertToShares(assets *big.Int) (int64, error) {
	reg := v.resolver.Registry()
	if !v.HasMatured() {
		return reg.PreviewLendGivenUnderlying(v.currencyID, v.maturity, assets)
	}
	return v.proRataShares(reg, assets, false)
}

// ConvertToAssets values shares in underlying terms.
func (v *Vault) ConvertToAssets(shares int64) (*big.Int, error) {
	reg := v.resolver.Registry()
	if !v.HasMatured() {
		proceeds, _, err := reg.PreviewBorrow(v.currencyID, v.maturity, shares)
		return proceeds, err
	}
	return v.proRataAssets(reg, shares)
}

// --- deposit side ---

func (v *Vault) MaxDeposit(common.Address) *big.Int {
	if v.HasMatured() {
		return big.NewInt(0)
	}
	return new(big.Int).Set(maxAssets)
}

func (v *Vault) MaxMint(common.Address) int64 {
	if v.HasMatured() {
		return 0
	}
	return maxShares
}

// PreviewDeposit quotes the shares minted for an underlying deposit.
func (v *Vault) PreviewDeposit(assets *big.Int) (int64, error) {
	if v.HasMatured() {
		return 0, ErrMatured
	}
	return v.resolver.Registry().PreviewLendGivenUnderlying(v.currencyID, v.maturity, assets)
}

// Deposit lends exactly assets underlying from `from` and mints the resulting
// shares to receiver.
func (v *Vault) Deposit(from common.Address, assets *big.Int, receiver common.Address) (int64, error) {
	if v.HasMatured() {
		return 0, ErrMaxDeposit
	}

	shares, err := v.PreviewDeposit(assets)
	if err != nil {
		return 0, err
	}
	if shares <= 0 {
		return 0, fmt.Errorf("deposit too small for one share unit")
	}
	if _, err := v.mintViaLend(from, assets, shares, receiver, 0, true, "deposit"); err != nil {
		return 0, err
	}
	return shares, nil
}

// PreviewMint quotes the underlying cost of minting exactly shares.
func (v *Vault) PreviewMint(shares int64) (*big.Int, error) {
	if v.HasMatured() {
		return nil, ErrMatured
	}
	cost, _, err := v.resolver.Registry().PreviewLend(v.currencyID, v.maturity, shares)
	return cost, err
}

// Mint mints exactly shares to receiver, pulling the underlying cost from
// `from`.
func (v *Vault) Mint(from common.Address, shares int64, receiver common.Address) (*big.Int, error) {
	if v.HasMatured() {
		return nil, ErrMatured
	}
	return v.mintViaLend(from, nil, shares, receiver, 0, true, "mint")
}

// --- withdraw side ---

func (v *Vault) MaxWithdraw(owner common.Address) (*big.Int, error) {
	return v.PreviewRedeem(v.shares.BalanceOf(owner))
}

func (v *Vault) MaxRedeem(owner common.Address) int64 {
	return v.shares.BalanceOf(owner)
}

// PreviewWithdraw quotes the shares burned to withdraw assets underlying.
// Rounds up so the caller never receives less than requested.
func (v *Vault) PreviewWithdraw(assets *big.Int) (int64, error) {
	if assets == nil || assets.Sign() == 0 {
		return 0, nil
	}
	reg := v.resolver.Registry()
	if !v.HasMatured() {
		return reg.PreviewLendGivenUnderlying(v.currencyID, v.maturity, assets)
	}
	return v.proRataShares(reg, assets, true)
}

// PreviewRedeem quotes the underlying proceeds of burning shares.
func (v *Vault) PreviewRedeem(shares int64) (*big.Int, error) {
	if shares == 0 {
		return big.NewInt(0), nil
	}
	reg := v.resolver.Registry()
	if !v.HasMatured() {
		proceeds, _, err := reg.PreviewBorrow(v.currencyID, v.maturity, shares)
		return proceeds, err
	}
	return v.proRataAssets(reg, shares)
}

// Withdraw burns just enough of owner's shares to pay assets underlying to
// receiver. A spender other than the owner spends share allowance.
func (v *Vault) Withdraw(spender common.Address, assets *big.Int, receiver, owner common.Address) (int64, error) {
	shares, err := v.PreviewWithdraw(assets)
	if err != nil {
		return 0, err
	}
	if shares <= 0 {
		return 0, fmt.Errorf("withdrawal too small for one share unit")
	}
	if _, err := v.redeemFor(spender, owner, shares, receiver); err != nil {
		return 0, err
	}
	return shares, nil
}

// RedeemShares burns exactly shares from owner and pays underlying to
// receiver. A spender other than the owner spends share allowance.
func (v *Vault) RedeemShares(spender common.Address, shares int64, receiver, owner common.Address) (*big.Int, error) {
	return v.redeemFor(spender, owner, shares, receiver)
}

func (v *Vault) redeemFor(spender, owner common.Address, shares int64, receiver common.Address) (*big.Int, error) {
	if spender != owner {
		if err := v.shares.ConsumeAllowance(owner, spender, shares); err != nil {
			return nil, err
		}
	}
	proceeds, err := v.Redeem(owner, shares, RedeemOpts{RedeemToUnderlying: true, Receiver: receiver})
	if err != nil {
		if spender != owner {
			v.shares.Approve(owner, spender, v.shares.Allowance(owner, spender)+shares)
		}
		return nil, err
	}
	return proceeds, nil
}

// --- pro-rata valuation after maturity ---

func (v *Vault) proRataAssets(reg registry.Registry, shares int64) (*big.Int, error) {
	supply := v.shares.TotalSupply()
	if supply <= 0 {
		return big.NewInt(0), nil
	}
	total, err := v.totalAssetsValue(reg)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(total, big.NewInt(shares))
	out.Quo(out, big.NewInt(supply))
	return out, nil
}

// proRataShares converts an underlying amount to shares at the pro-rata
// rate. Works in 8-decimal internal units; roundUp charges the caller the
// extra share unit when the division is inexact.
func (v *Vault) proRataShares(reg registry.Registry, assets *big.Int, roundUp bool) (int64, error) {
	supply := v.shares.TotalSupply()
	if supply <= 0 {
		return 0, nil
	}
	total, err := v.totalAssetsValue(reg)
	if err != nil {
		return 0, err
	}
	if total.Sign() <= 0 {
		return 0, nil
	}

	cur, err := reg.GetCurrency(v.currencyID)
	if err != nil {
		return 0, err
	}
	decimals := cur.Underlying.Decimals()

	internalAssets, err := fpmath.InternalFromExternal(assets, decimals)
	if err != nil {
		return 0, err
	}
	internalTotal, err := fpmath.InternalFromExternal(total, decimals)
	if err != nil {
		return 0, err
	}
	if internalTotal == 0 {
		return 0, nil
	}

	mode := fpmath.RoundDown
	if roundUp {
		mode = fpmath.RoundUp
	}
	return fpmath.DivideInt256(fpmath.MultiplyInt256(internalAssets, supply), internalTotal, mode), nil
}
