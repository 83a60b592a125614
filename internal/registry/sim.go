package registry

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ckoopmann/wrapped-fcash/internal/fcash"
	fpmath "github.com/ckoopmann/wrapped-fcash/internal/math"
)

type marketKey struct {
	CurrencyID uint16
	Maturity   uint64
}

type currencyState struct {
	cur *Currency
	// Underlying-native units per 1e8 asset-token units, scaled by 1e18.
	// Grows over time at assetYield (annualized, 9 dp) from genesis.
	assetRate0 *big.Int
	assetYield int64
}

type accountState struct {
	cash      map[uint16]int64    // settled asset cash, 8 dp
	portfolio map[marketKey]int64 // fCash notional, 8 dp, signed
}

// Sim is an in-memory fixed-rate lending venue. Each market prices lend and
// borrow trades by linear money-market discounting at its oracle rate, so
// the realized implied rate equals the oracle rate. Top-level mutating
// operations are all-or-nothing: a failure inside a transfer hook or a
// forwarded action rolls the venue back to its pre-call state.
//
// Not goroutine-safe; execution is serialized by the caller.
type Sim struct {
	addr       common.Address
	clock      Clock
	genesis    time.Time
	currencies map[uint16]*currencyState
	markets    map[marketKey]*Market
	accounts   map[common.Address]*accountState
	receivers  map[common.Address]FCashReceiver
}

func NewSim(addr common.Address, clock Clock) *Sim {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sim{
		addr:       addr,
		clock:      clock,
		genesis:    clock.Now(),
		currencies: make(map[uint16]*currencyState),
		markets:    make(map[marketKey]*Market),
		accounts:   make(map[common.Address]*accountState),
		receivers:  make(map[common.Address]FCashReceiver),
	}
}

func (s *Sim) Address() common.Address { return s.addr }

// AddCurrency lists a currency with its underlying and yield-bearing asset
// token. assetRate0 is the initial exchange rate (underlying-native per 1e8
// asset units, scaled 1e18); assetYield is its annualized accrual. The venue
// seeds itself with a large token reserve to pay out trades.
func (s *Sim) AddCurrency(id uint16, symbol string, underlyingDecimals int, assetRate0 *big.Int, assetYield int64) *Currency {
	cur := &Currency{
		ID:         id,
		Symbol:     symbol,
		Underlying: NewToken(symbol, underlyingDecimals),
		AssetToken: NewToken("c"+symbol, fcash.Decimals),
	}
	s.currencies[id] = &currencyState{
		cur:        cur,
		assetRate0: new(big.Int).Set(assetRate0),
		assetYield: assetYield,
	}

	// Venue reserves: 1e12 whole tokens of each denomination.
	reserve := new(big.Int).Mul(big.NewInt(1_000_000_000_000), fpmath.Pow10(underlyingDecimals))
	cur.Underlying.Mint(s.addr, reserve)
	assetReserve := new(big.Int).Mul(big.NewInt(1_000_000_000_000), fpmath.Pow10(fcash.Decimals))
	cur.AssetToken.Mint(s.addr, assetReserve)

	return cur
}

// ListMarket activates a (currency, maturity) market at an oracle rate.
func (s *Sim) ListMarket(currencyID uint16, maturity uint64, oracleRate int64) error {
	if _, ok := s.currencies[currencyID]; !ok {
		return fmt.Errorf("currency %d not listed", currencyID)
	}
	key := marketKey{CurrencyID: currencyID, Maturity: maturity}
	if _, ok := s.markets[key]; ok {
		return fmt.Errorf("market %d/%d already listed", currencyID, maturity)
	}
	s.markets[key] = &Market{
		CurrencyID: currencyID,
		Maturity:   maturity,
		OracleRate: oracleRate,
	}
	return nil
}

func (s *Sim) GetCurrency(currencyID uint16) (*Currency, error) {
	cs, ok := s.currencies[currencyID]
	if !ok {
		return nil, fmt.Errorf("currency %d not listed", currencyID)
	}
	return cs.cur, nil
}

// GetActiveMarkets returns the currency's unmatured markets ordered by
// maturity, with 1-based market indexes.
func (s *Sim) GetActiveMarkets(currencyID uint16) ([]Market, error) {
	if _, ok := s.currencies[currencyID]; !ok {
		return nil, fmt.Errorf("currency %d not listed", currencyID)
	}

	now := uint64(s.clock.Now().Unix())
	var out []Market
	for key, m := range s.markets {
		if key.CurrencyID == currencyID && m.Maturity > now {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Maturity < out[j].Maturity })
	for i := range out {
		out[i].MarketIndex = i + 1
	}
	return out, nil
}

func (s *Sim) GetAccount(addr common.Address) (AccountPortfolio, error) {
	out := AccountPortfolio{CashBalances: make(map[uint16]int64)}

	acct, ok := s.accounts[addr]
	if !ok {
		return out, nil
	}

	for cid, cash := range acct.cash {
		if cash != 0 {
			out.CashBalances[cid] = cash
		}
	}
	for key, notional := range acct.portfolio {
		if notional != 0 {
			out.Portfolio = append(out.Portfolio, Asset{
				CurrencyID: key.CurrencyID,
				Maturity:   key.Maturity,
				AssetType:  fcash.AssetTypeFCash,
				Notional:   notional,
			})
		}
	}
	sort.Slice(out.Portfolio, func(i, j int) bool {
		if out.Portfolio[i].CurrencyID != out.Portfolio[j].CurrencyID {
			return out.Portfolio[i].CurrencyID < out.Portfolio[j].CurrencyID
		}
		return out.Portfolio[i].Maturity < out.Portfolio[j].Maturity
	})
	return out, nil
}

func (s *Sim) BalanceOfFCash(addr common.Address, id *uint256.Int) int64 {
	currencyID, maturity, _, err := fcash.DecodeID(id)
	if err != nil {
		return 0
	}
	acct, ok := s.accounts[addr]
	if !ok {
		return 0
	}
	return acct.portfolio[marketKey{CurrencyID: currencyID, Maturity: maturity}]
}

func (s *Sim) CashBalance(addr common.Address, currencyID uint16) int64 {
	acct, ok := s.accounts[addr]
	if !ok {
		return 0
	}
	return acct.cash[currencyID]
}

func (s *Sim) RegisterContract(addr common.Address, receiver FCashReceiver) {
	s.receivers[addr] = receiver
}

// --- exchange rate ---

// assetRate returns the current asset exchange rate, accrued linearly at
// assetYield since genesis.
func (s *Sim) assetRate(cs *currencyState) *big.Int {
	elapsed := int64(s.clock.Now().Sub(s.genesis) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	base := new(big.Int).Mul(big.NewInt(fcash.RatePrecision), big.NewInt(fcash.SecondsInYear))
	accrual := new(big.Int).Mul(big.NewInt(cs.assetYield), big.NewInt(elapsed))

	rate := new(big.Int).Add(base, accrual)
	rate.Mul(rate, cs.assetRate0)
	rate.Quo(rate, base)
	return rate
}

// underlyingToAsset converts a native underlying amount to asset units (8 dp).
func (s *Sim) underlyingToAsset(cs *currencyState, underlying *big.Int) (int64, error) {
	out := new(big.Int).Mul(underlying, fpmath.Pow10(18))
	out.Quo(out, s.assetRate(cs))
	if !out.IsInt64() {
		return 0, fmt.Errorf("asset amount overflow")
	}
	return out.Int64(), nil
}

// assetToUnderlying converts asset units (8 dp) to native underlying.
func (s *Sim) assetToUnderlying(cs *currencyState, asset int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(asset), s.assetRate(cs))
	out.Quo(out, fpmath.Pow10(18))
	return out
}

// ConvertUnderlyingToAsset converts a native underlying amount to asset
// units at the current exchange rate.
func (s *Sim) ConvertUnderlyingToAsset(currencyID uint16, underlying *big.Int) (*big.Int, error) {
	cs, ok := s.currencies[currencyID]
	if !ok {
		return nil, fmt.Errorf("currency %d not listed", currencyID)
	}
	out := new(big.Int).Mul(underlying, fpmath.Pow10(18))
	out.Quo(out, s.assetRate(cs))
	return out, nil
}

// ConvertAssetToUnderlying converts asset units to native underlying at the
// current exchange rate.
func (s *Sim) ConvertAssetToUnderlying(currencyID uint16, asset *big.Int) (*big.Int, error) {
	cs, ok := s.currencies[currencyID]
	if !ok {
		return nil, fmt.Errorf("currency %d not listed", currencyID)
	}
	out := new(big.Int).Mul(asset, s.assetRate(cs))
	out.Quo(out, fpmath.Pow10(18))
	return out, nil
}

// --- pricing ---

func (s *Sim) market(currencyID uint16, maturity uint64) (*currencyState, *Market, int64, error) {
	cs, ok := s.currencies[currencyID]
	if !ok {
		return nil, nil, 0, fmt.Errorf("currency %d not listed", currencyID)
	}
	m, ok := s.markets[marketKey{CurrencyID: currencyID, Maturity: maturity}]
	if !ok {
		return nil, nil, 0, fmt.Errorf("market %d/%d not listed", currencyID, maturity)
	}
	t := int64(maturity) - s.clock.Now().Unix()
	return cs, m, t, nil
}

func (s *Sim) priceLend(currencyID uint16, maturity uint64, notional int64) (*currencyState, int64, int64, error) {
	cs, m, t, err := s.market(currencyID, maturity)
	if err != nil {
		return nil, 0, 0, err
	}
	if t <= 0 {
		return nil, 0, 0, fmt.Errorf("market %d/%d matured", currencyID, maturity)
	}
	if notional <= 0 {
		return nil, 0, 0, fmt.Errorf("notional must be positive")
	}

	pv, err := fpmath.PresentValue(notional, m.OracleRate, t)
	if err != nil {
		return nil, 0, 0, err
	}
	rate, err := fpmath.ImpliedAnnualRate(notional, pv, t)
	if err != nil {
		return nil, 0, 0, err
	}
	return cs, pv, rate, nil
}

func (s *Sim) PreviewLend(currencyID uint16, maturity uint64, notional int64) (*big.Int, int64, error) {
	cs, pv, rate, err := s.priceLend(currencyID, maturity, notional)
	if err != nil {
		return nil, 0, err
	}
	return fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals()), rate, nil
}

func (s *Sim) PreviewLendGivenUnderlying(currencyID uint16, maturity uint64, underlying *big.Int) (int64, error) {
	cs, m, t, err := s.market(currencyID, maturity)
	if err != nil {
		return 0, err
	}
	if t <= 0 {
		return 0, fmt.Errorf("market %d/%d matured", currencyID, maturity)
	}

	cash, err := fpmath.InternalFromExternal(underlying, cs.cur.Underlying.Decimals())
	if err != nil {
		return 0, err
	}
	return fpmath.FutureValue(cash, m.OracleRate, t)
}

func (s *Sim) PreviewBorrow(currencyID uint16, maturity uint64, notional int64) (*big.Int, int64, error) {
	cs, pv, rate, err := s.priceLend(currencyID, maturity, notional)
	if err != nil {
		return nil, 0, err
	}
	return fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals()), rate, nil
}

// --- trade execution ---

func (s *Sim) account(addr common.Address) *accountState {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &accountState{
			cash:      make(map[uint16]int64),
			portfolio: make(map[marketKey]int64),
		}
		s.accounts[addr] = acct
	}
	return acct
}

func (s *Sim) LendWithUnderlying(account common.Address, currencyID uint16, maturity uint64, notional int64) (*big.Int, int64, error) {
	cs, pv, rate, err := s.priceLend(currencyID, maturity, notional)
	if err != nil {
		return nil, 0, err
	}

	cost := fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals())
	if err := cs.cur.Underlying.TransferFrom(s.addr, account, s.addr, cost); err != nil {
		return nil, 0, err
	}

	s.account(account).portfolio[marketKey{CurrencyID: currencyID, Maturity: maturity}] += notional
	return cost, rate, nil
}

func (s *Sim) LendWithAsset(account common.Address, currencyID uint16, maturity uint64, notional int64) (*big.Int, int64, error) {
	cs, pv, rate, err := s.priceLend(currencyID, maturity, notional)
	if err != nil {
		return nil, 0, err
	}

	costUnderlying := fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals())
	assetCost, err := s.underlyingToAsset(cs, costUnderlying)
	if err != nil {
		return nil, 0, err
	}

	cost := big.NewInt(assetCost)
	if err := cs.cur.AssetToken.TransferFrom(s.addr, account, s.addr, cost); err != nil {
		return nil, 0, err
	}

	s.account(account).portfolio[marketKey{CurrencyID: currencyID, Maturity: maturity}] += notional
	return cost, rate, nil
}

func (s *Sim) BorrowAndWithdraw(account common.Address, currencyID uint16, maturity uint64, notional int64, toUnderlying bool, receiver common.Address) (*big.Int, int64, error) {
	cs, pv, rate, err := s.priceLend(currencyID, maturity, notional)
	if err != nil {
		return nil, 0, err
	}

	acct := s.account(account)
	key := marketKey{CurrencyID: currencyID, Maturity: maturity}
	if acct.portfolio[key] < notional {
		return nil, 0, fmt.Errorf("insufficient fCash: have %d, need %d", acct.portfolio[key], notional)
	}
	acct.portfolio[key] -= notional

	var proceeds *big.Int
	if toUnderlying {
		proceeds = fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals())
		if err := cs.cur.Underlying.Transfer(s.addr, receiver, proceeds); err != nil {
			return nil, 0, err
		}
	} else {
		assetOut, convErr := s.underlyingToAsset(cs, fpmath.ExternalFromInternal(pv, cs.cur.Underlying.Decimals()))
		if convErr != nil {
			return nil, 0, convErr
		}
		proceeds = big.NewInt(assetOut)
		if err := cs.cur.AssetToken.Transfer(s.addr, receiver, proceeds); err != nil {
			return nil, 0, err
		}
	}
	return proceeds, rate, nil
}

// SettleAccount converts every matured fCash position of addr into settled
// asset cash at the current exchange rate. Idempotent.
func (s *Sim) SettleAccount(addr common.Address) error {
	acct, ok := s.accounts[addr]
	if !ok {
		return nil
	}

	now := uint64(s.clock.Now().Unix())
	for key, notional := range acct.portfolio {
		if key.Maturity > now || notional == 0 {
			continue
		}
		cs, ok := s.currencies[key.CurrencyID]
		if !ok {
			continue
		}

		sign := int64(1)
		abs := notional
		if abs < 0 {
			sign = -1
			abs = -abs
		}

		face := fpmath.ExternalFromInternal(abs, cs.cur.Underlying.Decimals())
		cash, err := s.underlyingToAsset(cs, face)
		if err != nil {
			return err
		}
		acct.cash[key.CurrencyID] += sign * cash
		delete(acct.portfolio, key)
	}
	return nil
}

func (s *Sim) WithdrawCash(account common.Address, currencyID uint16, cash int64, toUnderlying bool, receiver common.Address) (*big.Int, error) {
	cs, ok := s.currencies[currencyID]
	if !ok {
		return nil, fmt.Errorf("currency %d not listed", currencyID)
	}
	if cash <= 0 {
		return nil, fmt.Errorf("cash must be positive")
	}

	acct := s.account(account)
	if acct.cash[currencyID] < cash {
		return nil, fmt.Errorf("insufficient cash: have %d, need %d", acct.cash[currencyID], cash)
	}
	acct.cash[currencyID] -= cash

	var out *big.Int
	if toUnderlying {
		out = s.assetToUnderlying(cs, cash)
		if err := cs.cur.Underlying.Transfer(s.addr, receiver, out); err != nil {
			return nil, err
		}
	} else {
		out = big.NewInt(cash)
		if err := cs.cur.AssetToken.Transfer(s.addr, receiver, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// --- fCash transfers with receiver hooks ---

func (s *Sim) SafeTransferFrom(from, to common.Address, id *uint256.Int, amount int64, data []byte) error {
	currencyID, maturity, assetType, err := fcash.DecodeID(id)
	if err != nil {
		return err
	}
	if assetType != fcash.AssetTypeFCash {
		return fmt.Errorf("unsupported asset type %d", assetType)
	}
	if _, ok := s.markets[marketKey{CurrencyID: currencyID, Maturity: maturity}]; !ok {
		return fmt.Errorf("market %d/%d not listed", currencyID, maturity)
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	snap := s.snapshot()

	key := marketKey{CurrencyID: currencyID, Maturity: maturity}
	// The sender may go transiently negative: a forwarded action executed by
	// the receiver hook (e.g. a batch lend) can restore the balance within
	// the same atomic call. The net position is validated afterwards.
	s.account(from).portfolio[key] -= amount
	s.account(to).portfolio[key] += amount

	if receiver, ok := s.receivers[to]; ok {
		if err := receiver.OnFCashReceived(s.addr, from, id, amount, data); err != nil {
			s.restore(snap)
			return err
		}
	}

	if s.account(from).portfolio[key] < 0 {
		s.restore(snap)
		return fmt.Errorf("insufficient fCash balance for %s", from.Hex())
	}
	return nil
}

func (s *Sim) SafeBatchTransferFrom(from, to common.Address, ids []*uint256.Int, amounts []int64, data []byte) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("ids and amounts length mismatch")
	}

	snap := s.snapshot()

	for i, id := range ids {
		currencyID, maturity, _, err := fcash.DecodeID(id)
		if err != nil {
			s.restore(snap)
			return err
		}
		key := marketKey{CurrencyID: currencyID, Maturity: maturity}
		s.account(from).portfolio[key] -= amounts[i]
		s.account(to).portfolio[key] += amounts[i]
		if s.account(from).portfolio[key] < 0 {
			s.restore(snap)
			return fmt.Errorf("insufficient fCash balance for %s", from.Hex())
		}
	}

	if receiver, ok := s.receivers[to]; ok {
		if err := receiver.OnFCashBatchReceived(s.addr, from, ids, amounts, data); err != nil {
			s.restore(snap)
			return err
		}
	}
	return nil
}

// --- forwarded protocol actions ---

// BatchLendCall is the decoded form of the opaque payload accepted by
// Invoke. Callers build it with EncodeBatchLend; the vault forwards the raw
// bytes without inspection.
type BatchLendCall struct {
	Method            string         `json:"method"`
	Account           common.Address `json:"account"`
	CurrencyID        uint16         `json:"currency_id"`
	Maturity          uint64         `json:"maturity"`
	Notional          int64          `json:"notional"`
	DepositUnderlying bool           `json:"deposit_underlying"`
	MinImpliedRate    int64          `json:"min_implied_rate"`
}

// EncodeBatchLend encodes a lend instruction for forwarding through a
// transfer-in payload.
func EncodeBatchLend(call BatchLendCall) ([]byte, error) {
	call.Method = "batchLend"
	return json.Marshal(call)
}

// Invoke executes an opaque protocol action. Atomic: failures leave no
// partial state.
func (s *Sim) Invoke(data []byte) error {
	var call BatchLendCall
	if err := json.Unmarshal(data, &call); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	if call.Method != "batchLend" {
		return fmt.Errorf("unsupported action %q", call.Method)
	}

	snap := s.snapshot()

	var rate int64
	var err error
	if call.DepositUnderlying {
		_, rate, err = s.LendWithUnderlying(call.Account, call.CurrencyID, call.Maturity, call.Notional)
	} else {
		_, rate, err = s.LendWithAsset(call.Account, call.CurrencyID, call.Maturity, call.Notional)
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	if call.MinImpliedRate > 0 && rate < call.MinImpliedRate {
		s.restore(snap)
		return fmt.Errorf("trade failed, slippage: rate %d below minimum %d", rate, call.MinImpliedRate)
	}
	return nil
}

// --- snapshot / rollback ---

type simSnapshot struct {
	accounts map[common.Address]*accountState
	tokens   map[uint16][2]tokenState
}

func (s *Sim) snapshot() simSnapshot {
	snap := simSnapshot{
		accounts: make(map[common.Address]*accountState, len(s.accounts)),
		tokens:   make(map[uint16][2]tokenState, len(s.currencies)),
	}
	for addr, acct := range s.accounts {
		cp := &accountState{
			cash:      make(map[uint16]int64, len(acct.cash)),
			portfolio: make(map[marketKey]int64, len(acct.portfolio)),
		}
		for k, v := range acct.cash {
			cp.cash[k] = v
		}
		for k, v := range acct.portfolio {
			cp.portfolio[k] = v
		}
		snap.accounts[addr] = cp
	}
	for id, cs := range s.currencies {
		snap.tokens[id] = [2]tokenState{cs.cur.Underlying.snapshot(), cs.cur.AssetToken.snapshot()}
	}
	return snap
}

func (s *Sim) restore(snap simSnapshot) {
	s.accounts = snap.accounts
	for id, st := range snap.tokens {
		cs := s.currencies[id]
		cs.cur.Underlying.restore(st[0])
		cs.cur.AssetToken.restore(st[1])
	}
}
