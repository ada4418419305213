package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voralbrecht/trtimeline/internal/stream"
)

const topicTransactions = "timelineTransactions"

// Backend is the slice of the mux the pager needs.
type Backend interface {
	Subscribe(topic string, fields map[string]any) (*stream.Subscription, error)
	AwaitInitial(ctx context.Context, sub *stream.Subscription, timeout time.Duration) (json.RawMessage, error)
}

// Pager drives a cursor-chained sequence of timelineTransactions
// subscriptions until the history is drained or a limit is hit. One
// pager call is single-threaded; concurrent pagers on the same mux each
// get their own cursor chain.
type Pager struct {
	Mux         Backend
	PageTimeout time.Duration
	MaxPages    int

	// StartAfter resumes from a known cursor instead of the newest item.
	StartAfter string
}

// page is the payload shape of one timelineTransactions answer.
type page struct {
	Items   []json.RawMessage `json:"items"`
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
}

// FetchAll drains the timeline. limit 0 means unlimited. Items come back
// in server order. A terminal subscription error ends the drain with
// whatever was accumulated; transport-level failures surface as errors
// alongside the partial result.
func (p *Pager) FetchAll(ctx context.Context, limit int) ([]json.RawMessage, error) {
	pageTimeout := p.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 500
	}

	var all []json.RawMessage
	cursor := p.StartAfter

	for pageNo := 1; ; pageNo++ {
		fields := map[string]any{}
		if cursor != "" {
			fields["after"] = cursor
		}

		sub, err := p.Mux.Subscribe(topicTransactions, fields)
		if err != nil {
			return truncate(all, limit), fmt.Errorf("subscribe page %d: %w", pageNo, err)
		}

		payload, err := p.Mux.AwaitInitial(ctx, sub, pageTimeout)
		if err != nil {
			var term *stream.TerminalError
			if errors.As(err, &term) {
				slog.Warn("timeline subscription rejected, stopping drain",
					"page", pageNo, "error", term.Payload)
				break
			}
			return truncate(all, limit), fmt.Errorf("await page %d: %w", pageNo, err)
		}
		if len(payload) == 0 {
			break
		}

		var pg page
		if err := json.Unmarshal(payload, &pg); err != nil {
			return truncate(all, limit), fmt.Errorf("decode page %d: %w", pageNo, err)
		}

		all = append(all, pg.Items...)
		cursor = pg.Cursors.After

		slog.Info("timeline page", "page", pageNo, "items", len(pg.Items), "total", len(all))

		if cursor == "" {
			break // end of history
		}
		if limit > 0 && len(all) >= limit {
			break
		}
		if pageNo >= maxPages {
			slog.Warn("timeline drain stopped at page cap", "pages", pageNo, "items", len(all))
			break
		}
	}

	return truncate(all, limit), nil
}

func truncate(items []json.RawMessage, limit int) []json.RawMessage {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
