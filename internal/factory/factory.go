// Package factory deploys wrapper vaults at deterministic addresses derived
// from (currency, maturity). Deployment is idempotent: repeated requests for
// the same pair return the existing vault without side effects.
package factory

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/ckoopmann/wrapped-fcash/internal/beacon"
	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/observability"
	"github.com/ckoopmann/wrapped-fcash/internal/registry"
	"github.com/ckoopmann/wrapped-fcash/internal/vault"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidMaturity = errors.New("invalid maturity")
)

type pairKey struct {
	CurrencyID uint16
	Maturity   uint64
}

// Factory derives vault addresses from its own address, the beacon address
// and the (currency, maturity) salt, so any party can compute a wrapper's
// address before it exists.
//
// Not goroutine-safe; the daemon serializes access.
type Factory struct {
	addr    common.Address
	beacon  *beacon.Beacon
	clock   registry.Clock
	sink    event.Sink
	metrics *observability.Metrics
	log     zerolog.Logger

	wrappers  map[pairKey]*vault.Vault
	byAddress map[common.Address]*vault.Vault
}

func New(addr common.Address, b *beacon.Beacon, clock registry.Clock, sink event.Sink, metrics *observability.Metrics, log zerolog.Logger) (*Factory, error) {
	if b == nil {
		return nil, fmt.Errorf("factory: nil beacon")
	}
	if clock == nil {
		clock = registry.SystemClock{}
	}
	return &Factory{
		addr:      addr,
		beacon:    b,
		clock:     clock,
		sink:      sink,
		metrics:   metrics,
		log:       log,
		wrappers:  make(map[pairKey]*vault.Vault),
		byAddress: make(map[common.Address]*vault.Vault),
	}, nil
}

func (f *Factory) Address() common.Address { return f.addr }

// ComputeAddress derives the deterministic vault address for a pair. Pure:
// it does not check whether the pair is deployable or deployed.
func (f *Factory) ComputeAddress(currencyID uint16, maturity uint64) common.Address {
	salt := computeSalt(currencyID, maturity)
	implHash := crypto.Keccak256(f.beacon.Address().Bytes())

	buf := make([]byte, 0, 1+common.AddressLength+len(salt)+len(implHash))
	buf = append(buf, 0xff)
	buf = append(buf, f.addr.Bytes()...)
	buf = append(buf, salt...)
	buf = append(buf, implHash...)
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// computeSalt hashes the pair as two 32-byte big-endian words.
func computeSalt(currencyID uint16, maturity uint64) []byte {
	var words [64]byte
	words[30] = byte(currencyID >> 8)
	words[31] = byte(currencyID)
	for i := 0; i < 8; i++ {
		words[63-i] = byte(maturity >> (8 * i))
	}
	return crypto.Keccak256(words[:])
}

// DeployWrapper creates the vault for (currencyID, maturity) at its
// deterministic address, or returns the existing one. created reports
// whether this call performed the deployment; the WrapperDeployed event is
// emitted only then. The currency must be listed and the maturity must be
// one of its active maturities.
func (f *Factory) DeployWrapper(currencyID uint16, maturity uint64) (v *vault.Vault, created bool, err error) {
	key := pairKey{CurrencyID: currencyID, Maturity: maturity}
	if existing, ok := f.wrappers[key]; ok {
		if f.metrics != nil {
			f.metrics.DeployIdempotentHits.Inc()
		}
		return existing, false, nil
	}

	reg := f.beacon.Registry()
	markets, err := reg.GetActiveMarkets(currencyID)
	if err != nil {
		f.countRejected("currency")
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidCurrency, currencyID)
	}
	active := false
	for _, m := range markets {
		if m.Maturity == maturity {
			active = true
			break
		}
	}
	if !active {
		f.countRejected("maturity")
		return nil, false, fmt.Errorf("%w: %d is not an active maturity of currency %d", ErrInvalidMaturity, maturity, currencyID)
	}

	addr := f.ComputeAddress(currencyID, maturity)
	v, err = vault.New(addr, currencyID, maturity, f.beacon, f.clock, f.sink, f.metrics, f.log)
	if err != nil {
		return nil, false, err
	}

	reg.RegisterContract(addr, v)
	f.wrappers[key] = v
	f.byAddress[addr] = v

	if f.sink != nil {
		f.sink.Emit(event.New(event.TypeWrapperDeployed, currencyID, maturity, addr, event.WrapperDeployed{
			CurrencyID: currencyID,
			Maturity:   maturity,
			Wrapper:    addr,
		}, f.clock.Now()))
	}
	if f.metrics != nil {
		f.metrics.WrappersDeployed.Inc()
		f.metrics.EventsEmitted.WithLabelValues(event.TypeWrapperDeployed.String()).Inc()
	}
	f.log.Info().
		Uint16("currency", currencyID).
		Uint64("maturity", maturity).
		Str("wrapper", addr.Hex()).
		Msg("wrapper deployed")

	return v, true, nil
}

// Wrapper returns the deployed vault for a pair, if any.
func (f *Factory) Wrapper(currencyID uint16, maturity uint64) (*vault.Vault, bool) {
	v, ok := f.wrappers[pairKey{CurrencyID: currencyID, Maturity: maturity}]
	return v, ok
}

// WrapperAt returns the deployed vault at an address, if any.
func (f *Factory) WrapperAt(addr common.Address) (*vault.Vault, bool) {
	v, ok := f.byAddress[addr]
	return v, ok
}

// Wrappers returns all deployed vaults.
func (f *Factory) Wrappers() []*vault.Vault {
	out := make([]*vault.Vault, 0, len(f.wrappers))
	for _, v := range f.wrappers {
		out = append(out, v)
	}
	return out
}

func (f *Factory) countRejected(reason string) {
	if f.metrics != nil {
		f.metrics.DeployRejected.WithLabelValues(reason).Inc()
	}
}
