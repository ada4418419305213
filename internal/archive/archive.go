// Package archive keeps a local SQLite copy of normalized transactions
// so repeated syncs are incremental and consumers have a query surface
// without hitting the stream again.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voralbrecht/trtimeline/internal/timeline"
)

//go:embed schema.sql
var schemaSQL string

// Archive is the transaction store. Single writer; the orchestrator
// serializes batches.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive database and initializes the schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error { return a.db.Close() }

// UpsertBatch writes a batch of normalized transactions. Existing rows
// are refreshed in place (status can move from pending to executed
// between syncs). Returns how many rows were new.
func (a *Archive) UpsertBatch(ctx context.Context, txns []timeline.Txn) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions
			(id, timestamp, category, merchant, merchant_clean, subtitle,
			 event_type, amount, currency, status, raw, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status    = excluded.status,
			merchant  = excluded.merchant,
			merchant_clean = excluded.merchant_clean,
			raw       = excluded.raw,
			synced_at = excluded.synced_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, t := range txns {
		if t.ID == "" {
			continue // nothing to key on
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE id = ?)`, t.ID).Scan(&exists); err != nil {
			return inserted, fmt.Errorf("check %s: %w", t.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			t.ID, t.Timestamp, string(t.Category), t.Merchant,
			timeline.CleanMerchant(t.Merchant), t.SubtitleRaw, t.EventTypeRaw,
			t.AmountSigned, t.Currency, t.Status, string(t.Raw), now,
		); err != nil {
			return inserted, fmt.Errorf("upsert %s: %w", t.ID, err)
		}
		if !exists {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Count returns the number of archived transactions.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// LatestTimestamp returns the newest archived item timestamp, or "" for
// an empty archive.
func (a *Archive) LatestTimestamp(ctx context.Context) (string, error) {
	var ts sql.NullString
	err := a.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM transactions`).Scan(&ts)
	if err != nil {
		return "", fmt.Errorf("latest timestamp: %w", err)
	}
	return ts.String, nil
}

// Recent returns archived transactions newest first.
func (a *Archive) Recent(ctx context.Context, limit, offset int) ([]timeline.Txn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, timestamp, category, merchant, subtitle, event_type,
		       amount, currency, status
		FROM transactions
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []timeline.Txn
	for rows.Next() {
		var t timeline.Txn
		var cat string
		if err := rows.Scan(&t.ID, &t.Timestamp, &cat, &t.Merchant,
			&t.SubtitleRaw, &t.EventTypeRaw, &t.AmountSigned,
			&t.Currency, &t.Status); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Category = timeline.Category(cat)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Run records one sync pass.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Items      int
	Inserted   int
}

// RecordRun persists the outcome of one sync pass.
func (a *Archive) RecordRun(ctx context.Context, r Run) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, items, inserted)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.FinishedAt.UTC().Format(time.RFC3339),
		r.Items, r.Inserted)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
