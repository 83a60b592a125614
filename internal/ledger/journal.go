package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EntryType represents the purpose of a journal entry
type EntryType int32

const (
	EntryMint EntryType = iota
	EntryBurn
	EntryTransfer
)

func (t EntryType) String() string {
	switch t {
	case EntryMint:
		return "Mint"
	case EntryBurn:
		return "Burn"
	case EntryTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}

// ZeroAddress is the mint/burn counterparty.
var ZeroAddress = common.Address{}

// Entry records a single share movement. Mints move from ZeroAddress, burns
// move to ZeroAddress, transfers move between holders.
type Entry struct {
	EntryID   uuid.UUID
	BatchID   uuid.UUID
	From      common.Address
	To        common.Address
	Amount    int64 // Fixed-point 8 decimals (ALWAYS positive)
	EntryType EntryType
	Timestamp int64 // Unix seconds of the originating operation
}

// Batch groups the entries produced by one vault operation.
type Batch struct {
	BatchID   uuid.UUID
	Operation string // e.g. "mint/underlying", "redeem"
	Timestamp int64
	Entries   []Entry
}

// Validate ensures the batch is well-formed. Supply conservation holds by
// construction: every entry moves a single positive amount between two
// accounts, with ZeroAddress absorbing mints and burns.
func (b *Batch) Validate() error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, e := range b.Entries {
		if e.Amount <= 0 {
			return fmt.Errorf("entry %s has non-positive amount: %d", e.EntryID, e.Amount)
		}
		if e.BatchID != b.BatchID {
			return fmt.Errorf("entry %s has mismatched batch_id", e.EntryID)
		}
		switch e.EntryType {
		case EntryMint:
			if e.From != ZeroAddress {
				return fmt.Errorf("entry %s: mint must originate from the zero address", e.EntryID)
			}
			if e.To == ZeroAddress {
				return fmt.Errorf("entry %s: mint cannot terminate at the zero address", e.EntryID)
			}
		case EntryBurn:
			if e.To != ZeroAddress {
				return fmt.Errorf("entry %s: burn must terminate at the zero address", e.EntryID)
			}
			if e.From == ZeroAddress {
				return fmt.Errorf("entry %s: burn cannot originate from the zero address", e.EntryID)
			}
		case EntryTransfer:
			// Self-transfers are valid no-op moves.
			if e.From == ZeroAddress || e.To == ZeroAddress {
				return fmt.Errorf("entry %s: transfer cannot involve the zero address", e.EntryID)
			}
		default:
			return fmt.Errorf("entry %s has unknown type %d", e.EntryID, e.EntryType)
		}
	}

	return nil
}

// NewEntry constructs an entry under batch with a fresh id.
func NewEntry(batch *Batch, entryType EntryType, from, to common.Address, amount int64) Entry {
	e := Entry{
		EntryID:   uuid.New(),
		BatchID:   batch.BatchID,
		From:      from,
		To:        to,
		Amount:    amount,
		EntryType: entryType,
		Timestamp: batch.Timestamp,
	}
	batch.Entries = append(batch.Entries, e)
	return e
}

// NewBatch starts a batch for one operation.
func NewBatch(operation string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		Operation: operation,
		Timestamp: timestamp,
	}
}
