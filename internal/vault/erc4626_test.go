package vault_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/fcash"
	"github.com/ckoopmann/wrapped-fcash/internal/ledger"
	fpmath "github.com/ckoopmann/wrapped-fcash/internal/math"
	"github.com/ckoopmann/wrapped-fcash/internal/testutil"
	"github.com/ckoopmann/wrapped-fcash/internal/vault"
)

func TestTotalAssetsLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	if got, err := v.TotalAssets(); err != nil || got.Sign() != 0 {
		t.Errorf("empty vault assets = %s, %v, want 0", got, err)
	}

	mintShares(t, env, v, testutil.Alice, notional)

	// Active: present value of the position.
	want := fpmath.ExternalFromInternal(notional*40/41, 18)
	if got, err := v.TotalAssets(); err != nil || got.Cmp(want) != 0 {
		t.Errorf("active assets = %s, %v, want %s", got, err, want)
	}

	// Matured, unsettled: face value.
	env.Clock.Set(time.Unix(int64(env.MaturityShort), 0))
	face := fpmath.ExternalFromInternal(notional, 18)
	if got, err := v.TotalAssets(); err != nil || got.Cmp(face) != 0 {
		t.Errorf("matured assets = %s, %v, want %s", got, err, face)
	}

	// Settled: value of the remaining cash balance, about half the face
	// value once half the shares are gone.
	if _, err := v.RedeemToUnderlying(testutil.Alice, notional/2, testutil.Alice, 0); err != nil {
		t.Fatal(err)
	}
	got, err := v.TotalAssets()
	if err != nil {
		t.Fatal(err)
	}
	half := new(big.Int).Quo(face, big.NewInt(2))
	diff := new(big.Int).Abs(new(big.Int).Sub(got, half))
	if diff.Cmp(fpmath.Pow10(16)) > 0 { // within 0.01 DAI
		t.Errorf("settled assets = %s, want about %s", got, half)
	}
}

func TestConvertRoundTripActive(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	assets := daiWhole(4_000)
	shares, err := v.ConvertToShares(assets)
	if err != nil {
		t.Fatal(err)
	}
	// 4_000 underlying grows to 4_100 at maturity.
	if want := int64(4_100) * fcash.Scale; shares != want {
		t.Errorf("shares = %d, want %d", shares, want)
	}

	back, err := v.ConvertToAssets(shares)
	if err != nil {
		t.Fatal(err)
	}
	if back.Cmp(assets) != 0 {
		t.Errorf("assets round trip = %s, want %s", back, assets)
	}
}

func TestDepositAndMintLimits(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	if v.MaxDeposit(testutil.Alice).Sign() <= 0 {
		t.Error("active vault must accept deposits")
	}
	if v.MaxMint(testutil.Alice) <= 0 {
		t.Error("active vault must accept mints")
	}

	env.Clock.Set(time.Unix(int64(env.MaturityShort), 0))

	if v.MaxDeposit(testutil.Alice).Sign() != 0 {
		t.Error("matured MaxDeposit must be zero")
	}
	if v.MaxMint(testutil.Alice) != 0 {
		t.Error("matured MaxMint must be zero")
	}
	if _, err := v.PreviewDeposit(daiWhole(1)); !errors.Is(err, vault.ErrMatured) {
		t.Errorf("PreviewDeposit err = %v, want ErrMatured", err)
	}
	if _, err := v.PreviewMint(fcash.Scale); !errors.Is(err, vault.ErrMatured) {
		t.Errorf("PreviewMint err = %v, want ErrMatured", err)
	}
	if _, err := v.Deposit(testutil.Alice, daiWhole(1), testutil.Alice); !errors.Is(err, vault.ErrMaxDeposit) {
		t.Errorf("Deposit err = %v, want ErrMaxDeposit", err)
	}
	if _, err := v.Mint(testutil.Alice, fcash.Scale, testutil.Alice); !errors.Is(err, vault.ErrMatured) {
		t.Errorf("Mint err = %v, want ErrMatured", err)
	}
}

func TestDeposit(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	env.FundUnderlying(t, testutil.DAICurrency, testutil.Alice, 5_000)
	env.ApproveVaultUnderlying(t, v, testutil.Alice, daiWhole(5_000))

	assets := daiWhole(4_000)
	quoted, err := v.PreviewDeposit(assets)
	if err != nil {
		t.Fatal(err)
	}

	shares, err := v.Deposit(testutil.Alice, assets, testutil.Bob)
	if err != nil {
		t.Fatal(err)
	}
	if shares != quoted {
		t.Errorf("shares = %d, preview quoted %d", shares, quoted)
	}
	if want := int64(4_100) * fcash.Scale; shares != want {
		t.Errorf("shares = %d, want %d", shares, want)
	}
	if got := v.BalanceOf(testutil.Bob); got != shares {
		t.Errorf("receiver balance = %d, want %d", got, shares)
	}

	// One operation, one event, labeled for the path actually taken.
	minted := env.Sink.ByType(event.TypeSharesMinted)
	if len(minted) != 1 {
		t.Fatalf("SharesMinted events = %d, want 1", len(minted))
	}
	if payload := minted[0].Payload.(event.SharesMinted); payload.Path != "deposit" {
		t.Errorf("mint path = %q, want %q", payload.Path, "deposit")
	}
}

func TestMintExactShares(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	env.FundUnderlying(t, testutil.DAICurrency, testutil.Alice, 20_000)
	env.ApproveVaultUnderlying(t, v, testutil.Alice, daiWhole(20_000))

	quoted, err := v.PreviewMint(notional)
	if err != nil {
		t.Fatal(err)
	}

	cost, err := v.Mint(testutil.Alice, notional, testutil.Alice)
	if err != nil {
		t.Fatal(err)
	}
	if cost.Cmp(quoted) != 0 {
		t.Errorf("cost = %s, preview quoted %s", cost, quoted)
	}
	if got := v.BalanceOf(testutil.Alice); got != notional {
		t.Errorf("shares = %d, want exactly %d", got, notional)
	}

	minted := env.Sink.ByType(event.TypeSharesMinted)
	if len(minted) != 1 {
		t.Fatalf("SharesMinted events = %d, want 1", len(minted))
	}
	if payload := minted[0].Payload.(event.SharesMinted); payload.Path != "mint" {
		t.Errorf("mint path = %q, want %q", payload.Path, "mint")
	}
}

func TestWithdraw(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	assets := daiWhole(1_000)
	shares, err := v.Withdraw(testutil.Alice, assets, testutil.Bob, testutil.Alice)
	if err != nil {
		t.Fatal(err)
	}
	// 1_000 underlying today is 1_025 fCash at maturity.
	if want := int64(1_025) * fcash.Scale; shares != want {
		t.Errorf("shares burned = %d, want %d", shares, want)
	}
	if got := env.DAI.Underlying.BalanceOf(testutil.Bob); got.Cmp(assets) != 0 {
		t.Errorf("receiver got %s, want %s", got, assets)
	}
	if got := v.BalanceOf(testutil.Alice); got != notional-shares {
		t.Errorf("remaining shares = %d, want %d", got, notional-shares)
	}
}

func TestRedeemSharesSpendsAllowance(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	// No allowance: refused.
	_, err := v.RedeemShares(testutil.Bob, notional/2, testutil.Bob, testutil.Alice)
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}

	if err := v.Approve(testutil.Alice, testutil.Bob, notional/2); err != nil {
		t.Fatal(err)
	}
	proceeds, err := v.RedeemShares(testutil.Bob, notional/2, testutil.Bob, testutil.Alice)
	if err != nil {
		t.Fatal(err)
	}
	if proceeds.Sign() <= 0 {
		t.Errorf("proceeds = %s, want positive", proceeds)
	}
	if got := v.Allowance(testutil.Alice, testutil.Bob); got != 0 {
		t.Errorf("allowance after spend = %d, want 0", got)
	}
}

func TestRedeemForRestoresAllowanceOnFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	// Allowance above the balance: the allowance check passes, the burn
	// fails, and the allowance must be restored.
	if err := v.Approve(testutil.Alice, testutil.Bob, 2*notional); err != nil {
		t.Fatal(err)
	}
	_, err := v.RedeemShares(testutil.Bob, notional+1, testutil.Bob, testutil.Alice)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := v.Allowance(testutil.Alice, testutil.Bob); got != 2*notional {
		t.Errorf("allowance after failed redeem = %d, want %d", got, 2*notional)
	}
}

func TestPreviewsAfterMaturity(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	env.Clock.Set(time.Unix(int64(env.MaturityShort), 0))

	// Withdraw-side previews keep working at face value.
	face := fpmath.ExternalFromInternal(notional, 18)
	got, err := v.PreviewRedeem(notional / 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := new(big.Int).Quo(face, big.NewInt(2)); got.Cmp(want) != 0 {
		t.Errorf("PreviewRedeem = %s, want %s", got, want)
	}

	shares, err := v.PreviewWithdraw(new(big.Int).Quo(face, big.NewInt(2)))
	if err != nil {
		t.Fatal(err)
	}
	if shares != notional/2 {
		t.Errorf("PreviewWithdraw = %d, want %d", shares, notional/2)
	}
}

func TestMaxWithdrawAndRedeem(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)
	mintShares(t, env, v, testutil.Alice, notional)

	if got := v.MaxRedeem(testutil.Alice); got != notional {
		t.Errorf("MaxRedeem = %d, want %d", got, notional)
	}
	if got := v.MaxRedeem(testutil.Bob); got != 0 {
		t.Errorf("MaxRedeem for stranger = %d, want 0", got)
	}

	max, err := v.MaxWithdraw(testutil.Alice)
	if err != nil {
		t.Fatal(err)
	}
	want := fpmath.ExternalFromInternal(notional*40/41, 18)
	if max.Cmp(want) != 0 {
		t.Errorf("MaxWithdraw = %s, want %s", max, want)
	}
}
