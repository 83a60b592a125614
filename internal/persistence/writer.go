package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ckoopmann/wrapped-fcash/internal/event"
)

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence   int64
	EventType  string
	EventID    string
	Vault      string
	CurrencyID int16
	Maturity   int64
	Payload    []byte // JSON-encoded envelope payload
	Timestamp  time.Time
}

// RowFromEnvelope flattens an envelope for storage. The payload keeps its
// JSON form so downstream consumers can query it without the Go types.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload: %w", err)
	}
	return EventRow{
		Sequence:   env.Sequence,
		EventType:  env.TypeName,
		EventID:    env.EventID.String(),
		Vault:      env.Vault.Hex(),
		CurrencyID: int16(env.CurrencyID),
		Maturity:   int64(env.Maturity),
		Payload:    payload,
		Timestamp:  env.Timestamp,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter batch-writes domain events to Postgres with multi-row
// INSERT. Writes are idempotent on the sequence so a retried batch never
// duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes events within tx (or directly when tx is nil).
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	if tx == nil {
		tx = w.db
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, event_id, vault, currency_id, maturity, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventType, e.EventID, e.Vault,
			e.CurrencyID, e.Maturity, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, zero when the log is
// empty. The daemon resumes its sequence counter from here.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
