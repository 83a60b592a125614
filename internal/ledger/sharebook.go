package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Authorization failures surfaced to callers. These are stable sentinels;
// entry points match on them, not on message text.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

type allowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// ShareBook maintains in-memory share balances and allowances for a single
// vault. Not goroutine-safe; callers serialize access (the daemon holds one
// lock across every public entry point).
type ShareBook struct {
	balances    map[common.Address]int64
	allowances  map[allowanceKey]int64
	totalSupply int64
}

func NewShareBook() *ShareBook {
	return &ShareBook{
		balances:   make(map[common.Address]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

// BalanceOf returns the current share balance for a holder.
func (sb *ShareBook) BalanceOf(holder common.Address) int64 {
	return sb.balances[holder]
}

// TotalSupply returns the outstanding share supply.
func (sb *ShareBook) TotalSupply() int64 {
	return sb.totalSupply
}

// Allowance returns the remaining approved amount for (owner, spender).
func (sb *ShareBook) Allowance(owner, spender common.Address) int64 {
	return sb.allowances[allowanceKey{Owner: owner, Spender: spender}]
}

// Approve sets the spender's allowance to exactly amount.
func (sb *ShareBook) Approve(owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative allowance: %d", amount)
	}
	sb.allowances[allowanceKey{Owner: owner, Spender: spender}] = amount
	return nil
}

// ConsumeAllowance decrements (owner, spender) by exactly amount. Fails
// without mutating when the remaining allowance is smaller.
func (sb *ShareBook) ConsumeAllowance(owner, spender common.Address, amount int64) error {
	key := allowanceKey{Owner: owner, Spender: spender}
	remaining := sb.allowances[key]
	if remaining < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientAllowance, remaining, amount)
	}
	sb.allowances[key] = remaining - amount
	return nil
}

// Apply applies a single validated journal entry to balances. The check runs
// before any mutation, so a failed Apply leaves the book untouched.
func (sb *ShareBook) Apply(e Entry) error {
	switch e.EntryType {
	case EntryMint:
		sb.balances[e.To] += e.Amount
		sb.totalSupply += e.Amount

	case EntryBurn:
		if sb.balances[e.From] < e.Amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sb.balances[e.From], e.Amount)
		}
		sb.balances[e.From] -= e.Amount
		sb.totalSupply -= e.Amount

	case EntryTransfer:
		if sb.balances[e.From] < e.Amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sb.balances[e.From], e.Amount)
		}
		sb.balances[e.From] -= e.Amount
		sb.balances[e.To] += e.Amount

	default:
		return fmt.Errorf("unknown entry type %d", e.EntryType)
	}

	return nil
}

// ApplyBatch validates then applies all entries in a batch.
func (sb *ShareBook) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, e := range batch.Entries {
		if err := sb.Apply(e); err != nil {
			return err
		}
	}

	return nil
}

// Holders returns the number of addresses with a ledger slot.
func (sb *ShareBook) Holders() int {
	return len(sb.balances)
}

// Snapshot returns a copy of all balances (for diagnostics and tests).
func (sb *ShareBook) Snapshot() map[common.Address]int64 {
	snapshot := make(map[common.Address]int64, len(sb.balances))
	for k, v := range sb.balances {
		snapshot[k] = v
	}
	return snapshot
}
