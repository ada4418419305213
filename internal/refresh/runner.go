// Package refresh keeps the session token alive while a stream is open
// by exchanging the refresh token on an interval and mirroring the
// rotated pair to disk.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voralbrecht/trtimeline/internal/auth"
	"github.com/voralbrecht/trtimeline/internal/events"
	"github.com/voralbrecht/trtimeline/internal/tokens"
)

// Refresher is the slice of the auth client the runner needs.
type Refresher interface {
	Refresh(ctx context.Context, prev tokens.Pair) (tokens.Pair, error)
}

// Saver persists a rotated pair.
type Saver interface {
	Save(p tokens.Pair) error
}

// Runner refreshes the session on a ticker until the context ends or
// the refresh token dies.
type Runner struct {
	Auth     Refresher
	Store    Saver
	Bus      *events.Bus
	Interval time.Duration

	mu   sync.Mutex
	pair tokens.Pair
}

func New(a Refresher, s Saver, bus *events.Bus, interval time.Duration, initial tokens.Pair) *Runner {
	return &Runner{Auth: a, Store: s, Bus: bus, Interval: interval, pair: initial}
}

// Pair returns the most recent token pair.
func (r *Runner) Pair() tokens.Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pair
}

// Run blocks until ctx is canceled or the refresh token expires. Network
// hiccups are logged and retried at the next tick; an expired refresh
// token ends the loop since only a full re-login can help.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := r.tick(ctx); done {
				return
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context) (done bool) {
	next, err := r.Auth.Refresh(ctx, r.Pair())
	if err != nil {
		if auth.KindOf(err) == auth.KindRefreshExpired {
			slog.Error("refresh token expired, stopping keepalive", "error", err)
			return true
		}
		slog.Warn("session refresh failed, will retry", "error", err)
		return false
	}

	r.mu.Lock()
	r.pair = next
	r.mu.Unlock()

	if err := r.Store.Save(next); err != nil {
		// Storage trouble does not invalidate the in-memory session.
		slog.Warn("persist refreshed tokens failed", "error", err)
	}
	if r.Bus != nil {
		r.Bus.Publish(events.Event{Type: events.EventRefresh, Message: "session refreshed"})
	}
	return false
}
