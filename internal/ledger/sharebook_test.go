package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000B1")
)

func mint(t *testing.T, sb *ShareBook, to common.Address, amount int64) {
	t.Helper()
	batch := NewBatch("mint", 1_700_000_000)
	NewEntry(batch, EntryMint, ZeroAddress, to, amount)
	if err := sb.ApplyBatch(batch); err != nil {
		t.Fatalf("mint %d to %s: %v", amount, to.Hex(), err)
	}
}

func TestMintBurnSupply(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 100)

	if got := sb.BalanceOf(alice); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if got := sb.TotalSupply(); got != 100 {
		t.Errorf("supply = %d, want 100", got)
	}

	batch := NewBatch("burn", 1_700_000_000)
	NewEntry(batch, EntryBurn, alice, ZeroAddress, 40)
	if err := sb.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	if got := sb.BalanceOf(alice); got != 60 {
		t.Errorf("balance after burn = %d, want 60", got)
	}
	if got := sb.TotalSupply(); got != 60 {
		t.Errorf("supply after burn = %d, want 60", got)
	}
}

func TestBurnAboveBalanceFailsWithoutMutating(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 50)

	batch := NewBatch("burn", 1_700_000_000)
	NewEntry(batch, EntryBurn, alice, ZeroAddress, 51)
	err := sb.ApplyBatch(batch)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if got := sb.BalanceOf(alice); got != 50 {
		t.Errorf("balance = %d, want 50 after failed burn", got)
	}
	if got := sb.TotalSupply(); got != 50 {
		t.Errorf("supply = %d, want 50 after failed burn", got)
	}
}

func TestTransferMovesBalance(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 100)

	batch := NewBatch("transfer", 1_700_000_000)
	NewEntry(batch, EntryTransfer, alice, bob, 30)
	if err := sb.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	if got := sb.BalanceOf(alice); got != 70 {
		t.Errorf("alice = %d, want 70", got)
	}
	if got := sb.BalanceOf(bob); got != 30 {
		t.Errorf("bob = %d, want 30", got)
	}
	if got := sb.TotalSupply(); got != 100 {
		t.Errorf("supply = %d, want 100 (transfers conserve supply)", got)
	}
}

func TestTransferAboveBalanceFails(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 10)

	batch := NewBatch("transfer", 1_700_000_000)
	NewEntry(batch, EntryTransfer, alice, bob, 11)
	if err := sb.ApplyBatch(batch); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestAllowanceLifecycle(t *testing.T) {
	sb := NewShareBook()

	if err := sb.Approve(alice, bob, 100); err != nil {
		t.Fatal(err)
	}
	if got := sb.Allowance(alice, bob); got != 100 {
		t.Errorf("allowance = %d, want 100", got)
	}

	if err := sb.ConsumeAllowance(alice, bob, 60); err != nil {
		t.Fatal(err)
	}
	if got := sb.Allowance(alice, bob); got != 40 {
		t.Errorf("allowance after spend = %d, want 40", got)
	}

	err := sb.ConsumeAllowance(alice, bob, 41)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
	if got := sb.Allowance(alice, bob); got != 40 {
		t.Errorf("failed spend must not mutate: allowance = %d, want 40", got)
	}

	// Approve replaces, it does not accumulate.
	if err := sb.Approve(alice, bob, 5); err != nil {
		t.Fatal(err)
	}
	if got := sb.Allowance(alice, bob); got != 5 {
		t.Errorf("allowance after re-approve = %d, want 5", got)
	}
}

func TestNegativeApproveRejected(t *testing.T) {
	sb := NewShareBook()
	if err := sb.Approve(alice, bob, -1); err == nil {
		t.Error("negative allowance must fail")
	}
}

func TestBatchValidation(t *testing.T) {
	empty := NewBatch("noop", 1)
	if err := empty.Validate(); err == nil {
		t.Error("empty batch must fail validation")
	}

	neg := NewBatch("mint", 1)
	NewEntry(neg, EntryMint, ZeroAddress, alice, -5)
	if err := neg.Validate(); err == nil {
		t.Error("non-positive amount must fail validation")
	}

	badMint := NewBatch("mint", 1)
	NewEntry(badMint, EntryMint, bob, alice, 5)
	if err := badMint.Validate(); err == nil {
		t.Error("mint not from zero address must fail validation")
	}

	mintToZero := NewBatch("mint", 1)
	NewEntry(mintToZero, EntryMint, ZeroAddress, ZeroAddress, 5)
	if err := mintToZero.Validate(); err == nil {
		t.Error("mint to the zero address must fail validation")
	}

	burnFromZero := NewBatch("burn", 1)
	NewEntry(burnFromZero, EntryBurn, ZeroAddress, ZeroAddress, 5)
	if err := burnFromZero.Validate(); err == nil {
		t.Error("burn from the zero address must fail validation")
	}

	badTransfer := NewBatch("transfer", 1)
	NewEntry(badTransfer, EntryTransfer, ZeroAddress, alice, 5)
	if err := badTransfer.Validate(); err == nil {
		t.Error("transfer involving zero address must fail validation")
	}
}

func TestSelfTransferIsValidNoOp(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 100)

	batch := NewBatch("transfer", 1_700_000_000)
	NewEntry(batch, EntryTransfer, alice, alice, 40)
	if err := sb.ApplyBatch(batch); err != nil {
		t.Fatalf("self-transfer: %v", err)
	}
	if got := sb.BalanceOf(alice); got != 100 {
		t.Errorf("balance after self-transfer = %d, want 100", got)
	}
	if got := sb.TotalSupply(); got != 100 {
		t.Errorf("supply = %d, want 100", got)
	}

	// The balance check still applies to the sending side.
	over := NewBatch("transfer", 1_700_000_000)
	NewEntry(over, EntryTransfer, alice, alice, 101)
	if err := sb.ApplyBatch(over); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestValidatorSupplyMatchesNotional(t *testing.T) {
	sb := NewShareBook()
	mint(t, sb, alice, 1_000)
	v := NewInvariantValidator(sb)

	if err := v.ValidateSupplyMatchesNotional(1_000); err != nil {
		t.Errorf("matched notional: %v", err)
	}
	if err := v.ValidateSupplyMatchesNotional(999); err == nil {
		t.Error("mismatched notional must fail")
	}
	if err := v.ValidateSupplyConsistent(); err != nil {
		t.Errorf("consistent book: %v", err)
	}
}
