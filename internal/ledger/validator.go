package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks share ledger invariants
type InvariantValidator struct {
	book *ShareBook
}

func NewInvariantValidator(book *ShareBook) *InvariantValidator {
	return &InvariantValidator{
		book: book,
	}
}

// ValidateSupplyMatchesNotional verifies that outstanding shares equal the
// vault's fCash notional held at the market registry. Holds for every
// active-state vault at all times.
func (v *InvariantValidator) ValidateSupplyMatchesNotional(notional int64) error {
	if v.book.totalSupply != notional {
		return fmt.Errorf("share supply %d != vault notional %d", v.book.totalSupply, notional)
	}
	return nil
}

// ValidateSupplyConsistent verifies that the sum of holder balances equals
// the recorded total supply.
func (v *InvariantValidator) ValidateSupplyConsistent() error {
	var sum int64
	for _, balance := range v.book.balances {
		sum += balance
	}
	if sum != v.book.totalSupply {
		return fmt.Errorf("sum of balances %d != total supply %d", sum, v.book.totalSupply)
	}
	return nil
}

// ValidateNonNegative checks that a holder balance is >= 0
func (v *InvariantValidator) ValidateNonNegative(holder common.Address) error {
	balance := v.book.BalanceOf(holder)
	if balance < 0 {
		return fmt.Errorf("holder %s has negative balance: %d", holder.Hex(), balance)
	}
	return nil
}
