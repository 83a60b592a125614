package registry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type tokenAllowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// Token is an in-memory ERC20-style balance book at a fixed decimal
// precision. Amounts are big.Int because underlying tokens commonly use 18
// decimals. Not goroutine-safe.
type Token struct {
	symbol     string
	decimals   int
	balances   map[common.Address]*big.Int
	allowances map[tokenAllowanceKey]*big.Int
}

func NewToken(symbol string, decimals int) *Token {
	return &Token{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[tokenAllowanceKey]*big.Int),
	}
}

func (t *Token) Symbol() string { return t.symbol }
func (t *Token) Decimals() int  { return t.decimals }

// BalanceOf returns a copy of the holder's balance.
func (t *Token) BalanceOf(holder common.Address) *big.Int {
	if b, ok := t.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns a copy of the remaining approval.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[tokenAllowanceKey{Owner: owner, Spender: spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint credits a holder. Used to seed balances and as the venue's cash
// reserve mechanism.
func (t *Token) Mint(to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	cur, ok := t.balances[to]
	if !ok {
		cur = new(big.Int)
		t.balances[to] = cur
	}
	cur.Add(cur, amount)
}

// Burn debits a holder.
func (t *Token) Burn(from common.Address, amount *big.Int) error {
	cur := t.balances[from]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%s: burn exceeds balance of %s", t.symbol, from.Hex())
	}
	cur.Sub(cur, amount)
	return nil
}

// Approve sets the spender's allowance to exactly amount.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.allowances[tokenAllowanceKey{Owner: owner, Spender: spender}] = new(big.Int).Set(amount)
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: invalid transfer amount", t.symbol)
	}
	cur := t.balances[from]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%s: transfer exceeds balance of %s", t.symbol, from.Hex())
	}
	cur.Sub(cur, amount)
	t.Mint(to, amount)
	return nil
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	key := tokenAllowanceKey{Owner: from, Spender: spender}
	allowed := t.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%s: transfer amount exceeds allowance of %s", t.symbol, spender.Hex())
	}
	if err := t.Transfer(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// --- snapshot support for transactional registry operations ---

type tokenState struct {
	balances   map[common.Address]*big.Int
	allowances map[tokenAllowanceKey]*big.Int
}

func (t *Token) snapshot() tokenState {
	st := tokenState{
		balances:   make(map[common.Address]*big.Int, len(t.balances)),
		allowances: make(map[tokenAllowanceKey]*big.Int, len(t.allowances)),
	}
	for k, v := range t.balances {
		st.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range t.allowances {
		st.allowances[k] = new(big.Int).Set(v)
	}
	return st
}

func (t *Token) restore(st tokenState) {
	t.balances = st.balances
	t.allowances = st.allowances
}
