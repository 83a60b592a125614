// Package beacon holds the shared upgrade pointer for wrapper vaults. Every
// vault resolves the current registry through the beacon on each call, so an
// upgrade retargets all deployed wrappers at once.
package beacon

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ckoopmann/wrapped-fcash/internal/registry"
)

// Resolver yields the registry currently trusted by the vaults. Vaults must
// not cache the result across calls.
type Resolver interface {
	Registry() registry.Registry
}

// Beacon is the canonical Resolver. Its address participates in the
// deterministic wrapper address derivation, so two factories sharing a
// beacon derive identical wrapper addresses.
type Beacon struct {
	addr common.Address
	impl registry.Registry
}

func New(addr common.Address, impl registry.Registry) (*Beacon, error) {
	if impl == nil {
		return nil, fmt.Errorf("beacon: nil registry")
	}
	return &Beacon{addr: addr, impl: impl}, nil
}

func (b *Beacon) Address() common.Address     { return b.addr }
func (b *Beacon) Registry() registry.Registry { return b.impl }

// UpgradeTo swaps the trusted registry. Takes effect for every vault on its
// next call.
func (b *Beacon) UpgradeTo(impl registry.Registry) error {
	if impl == nil {
		return fmt.Errorf("beacon: nil registry")
	}
	b.impl = impl
	return nil
}
