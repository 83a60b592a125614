package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeWrapperDeployed
	TypeSharesMinted
	TypeSharesRedeemed
	TypeSharesTransferred
	TypeSharesApproved
	TypeVaultSettled
)

func (t Type) String() string {
	switch t {
	case TypeWrapperDeployed:
		return "WrapperDeployed"
	case TypeSharesMinted:
		return "SharesMinted"
	case TypeSharesRedeemed:
		return "SharesRedeemed"
	case TypeSharesTransferred:
		return "SharesTransferred"
	case TypeSharesApproved:
		return "SharesApproved"
	case TypeVaultSettled:
		return "VaultSettled"
	default:
		return "Unknown"
	}
}

// Envelope wraps every emitted event. The sequence is assigned by the sink
// that accepts the event, not by the emitter.
type Envelope struct {
	EventID    uuid.UUID      `json:"event_id"`
	Sequence   int64          `json:"sequence"`
	Type       Type           `json:"-"`
	TypeName   string         `json:"event_type"`
	CurrencyID uint16         `json:"currency_id"`
	Maturity   uint64         `json:"maturity"`
	Vault      common.Address `json:"vault"`
	Payload    any            `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Payloads. Amounts are 8-decimal fixed point; token amounts are decimal
// strings at the token's native precision.

type WrapperDeployed struct {
	CurrencyID uint16         `json:"currency_id"`
	Maturity   uint64         `json:"maturity"`
	Wrapper    common.Address `json:"wrapper"`
}

type SharesMinted struct {
	Receiver common.Address `json:"receiver"`
	Amount   int64          `json:"amount"`
	Path     string         `json:"path"` // transfer | underlying | asset | deposit | mint
}

type SharesRedeemed struct {
	Owner        common.Address `json:"owner"`
	Receiver     common.Address `json:"receiver"`
	Amount       int64          `json:"amount"`
	Denomination string         `json:"denomination"` // underlying | asset | fcash
	Matured      bool           `json:"matured"`
	Proceeds     string         `json:"proceeds,omitempty"`
}

type SharesTransferred struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount int64          `json:"amount"`
}

type SharesApproved struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  int64          `json:"amount"`
}

type VaultSettled struct {
	CashBalance int64 `json:"cash_balance"`
}
