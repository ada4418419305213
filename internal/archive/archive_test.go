package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voralbrecht/trtimeline/internal/timeline"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleTxns() []timeline.Txn {
	return []timeline.Txn{
		{
			ID: "t1", Timestamp: "2024-01-02T10:00:00Z",
			Category: timeline.CategoryCard, Merchant: "REWE #4711",
			AmountSigned: -23.40, Currency: "EUR", Status: "EXECUTED",
		},
		{
			ID: "t2", Timestamp: "2024-01-03T09:00:00Z",
			Category: timeline.CategoryTransferIn, Merchant: "Deposit",
			AmountSigned: 500, Currency: "EUR", Status: "EXECUTED",
		},
	}
}

func TestUpsertBatchCountsInserts(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	inserted, err := a.UpsertBatch(ctx, sampleTxns())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	n, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestUpsertBatchIsIdempotent(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	txns := sampleTxns()
	if _, err := a.UpsertBatch(ctx, txns); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Second sync sees the same items, one of them with a settled status.
	txns[0].Status = "SETTLED"
	inserted, err := a.UpsertBatch(ctx, txns)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("inserted = %d, want 0 on re-sync", inserted)
	}

	n, _ := a.Count(ctx)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	recent, err := a.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for _, tx := range recent {
		if tx.ID == "t1" && tx.Status != "SETTLED" {
			t.Fatalf("status not refreshed: %q", tx.Status)
		}
	}
}

func TestUpsertBatchSkipsEmptyIDs(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	inserted, err := a.UpsertBatch(ctx, []timeline.Txn{
		{ID: "", Merchant: "ghost"},
		{ID: "t1", Timestamp: "2024-01-01T00:00:00Z", Category: timeline.CategoryOther},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	if _, err := a.UpsertBatch(ctx, sampleTxns()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	recent, err := a.Recent(ctx, 10, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("rows = %d, want 2", len(recent))
	}
	if recent[0].ID != "t2" || recent[1].ID != "t1" {
		t.Fatalf("order = %s, %s; want t2, t1", recent[0].ID, recent[1].ID)
	}
}

func TestLatestTimestamp(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	ts, err := a.LatestTimestamp(ctx)
	if err != nil {
		t.Fatalf("latest on empty archive: %v", err)
	}
	if ts != "" {
		t.Fatalf("empty archive timestamp = %q", ts)
	}

	if _, err := a.UpsertBatch(ctx, sampleTxns()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ts, err = a.LatestTimestamp(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ts != "2024-01-03T09:00:00Z" {
		t.Fatalf("latest = %q", ts)
	}
}

func TestRecordRun(t *testing.T) {
	a := newTestArchive(t)

	started := time.Now().Add(-time.Minute)
	err := a.RecordRun(context.Background(), Run{
		ID:         "run-1",
		StartedAt:  started,
		FinishedAt: time.Now(),
		Items:      42,
		Inserted:   40,
	})
	if err != nil {
		t.Fatalf("record run: %v", err)
	}

	// Duplicate run ids must be rejected by the primary key.
	err = a.RecordRun(context.Background(), Run{ID: "run-1", StartedAt: started, FinishedAt: time.Now()})
	if err == nil {
		t.Fatal("duplicate run id should fail")
	}
}
