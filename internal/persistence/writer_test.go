package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/persistence"
	"github.com/ckoopmann/wrapped-fcash/internal/testutil"
)

var testVault = common.HexToAddress("0x00000000000000000000000000000000000000F1")

func setupEventLog(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("apply migrations: %v", err)
	}
	return db, cleanup
}

func collectRows(t *testing.T, sink *event.MemorySink) []persistence.EventRow {
	t.Helper()
	var rows []persistence.EventRow
	for _, env := range sink.Events() {
		row, err := persistence.RowFromEnvelope(env)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
	return rows
}

func emitFixture(sink *event.MemorySink, n int) {
	for i := 0; i < n; i++ {
		sink.Emit(event.New(event.TypeSharesMinted, 2, 1_700_000_000, testVault,
			event.SharesMinted{Receiver: testVault, Amount: int64(i + 1), Path: "underlying"},
			time.Unix(1_700_000_000, 0)))
	}
}

func TestWriteEventBatchIdempotent(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()
	ctx := context.Background()

	sink := event.NewMemorySink()
	emitFixture(sink, 5)
	rows := collectRows(t, sink)

	writer := persistence.NewEventLogWriter(db)
	if err := writer.WriteEventBatch(ctx, nil, rows); err != nil {
		t.Fatal(err)
	}
	// Replaying the same batch must not duplicate rows.
	if err := writer.WriteEventBatch(ctx, nil, rows); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("rows = %d, want 5", count)
	}

	seq, err := writer.LastSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 5 {
		t.Errorf("last sequence = %d, want 5", seq)
	}

	var eventType string
	var payload []byte
	err = db.QueryRow(`SELECT event_type, payload FROM event_log.events WHERE sequence = 1`).
		Scan(&eventType, &payload)
	if err != nil {
		t.Fatal(err)
	}
	if eventType != "SharesMinted" {
		t.Errorf("event_type = %q, want SharesMinted", eventType)
	}
	if len(payload) == 0 {
		t.Error("payload must not be empty")
	}
}

func TestLastSequenceEmptyLog(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()

	seq, err := persistence.NewEventLogWriter(db).LastSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("empty log last sequence = %d, want 0", seq)
	}
}

func TestWorkerDrainsAndFlushes(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()

	persistChan := make(chan event.Envelope, 16)
	worker := persistence.NewWorker(db, persistChan, 2, 20*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(context.Background())
	}()

	sink := event.NewChannelSink(0, persistChan, nil)
	for i := 0; i < 5; i++ {
		sink.Emit(event.New(event.TypeSharesMinted, 2, 1_700_000_000, testVault,
			event.SharesMinted{Amount: int64(i + 1)}, time.Unix(1_700_000_000, 0)))
	}

	// Closing the channel makes Run flush the tail and return.
	close(persistChan)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("rows = %d, want 5", count)
	}
}
