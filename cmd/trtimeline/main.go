package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/voralbrecht/trtimeline/internal/archive"
	"github.com/voralbrecht/trtimeline/internal/auth"
	"github.com/voralbrecht/trtimeline/internal/config"
	"github.com/voralbrecht/trtimeline/internal/events"
	"github.com/voralbrecht/trtimeline/internal/refresh"
	"github.com/voralbrecht/trtimeline/internal/stream"
	"github.com/voralbrecht/trtimeline/internal/timeline"
	"github.com/voralbrecht/trtimeline/internal/tokens"
	"github.com/voralbrecht/trtimeline/internal/transport"
	"github.com/voralbrecht/trtimeline/internal/wire"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(events.NewLogHandler(level, 500)))
	slog.Info("trtimeline starting", "version", version)

	if err := run(cfg); err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := transport.New(cfg.ProxyURL)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	store := tokens.NewStore(cfg.TokenPath)
	authc, err := auth.New(cfg, dialer.RoundTripper())
	if err != nil {
		return fmt.Errorf("auth client: %w", err)
	}

	bus := events.NewBus(200)

	pair, err := establishSession(ctx, cfg, authc, store, bus)
	if err != nil {
		return err
	}

	mux, err := openStream(ctx, cfg, dialer, authc, store, pair)
	if err != nil {
		return err
	}
	defer mux.Close()
	bus.Publish(events.Event{Type: events.EventStreamUp, Message: "stream open"})

	// User interrupt tears the mux down; every awaiter sees closed.
	go func() {
		<-ctx.Done()
		mux.Close()
	}()

	// Keep the session fresh for long drains.
	keepalive := refresh.New(authc, store, bus, cfg.RefreshInterval, authc.Pair())
	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go keepalive.Run(refreshCtx)

	started := time.Now()
	pager := &timeline.Pager{
		Mux:         mux,
		PageTimeout: cfg.PageTimeout,
		MaxPages:    cfg.MaxPages,
	}
	raws, err := pager.FetchAll(ctx, cfg.Limit)
	if err != nil {
		return fmt.Errorf("drain timeline: %w", err)
	}

	txns, parseErrs := timeline.NormalizeAll(raws)
	for _, perr := range parseErrs {
		slog.Warn("skipping unparsable item", "error", perr)
	}
	slog.Info("timeline drained", "items", len(txns), "skipped", len(parseErrs))

	enc := json.NewEncoder(os.Stdout)
	for _, t := range txns {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("emit record: %w", err)
		}
	}

	if cfg.ArchivePath != "" {
		if err := archiveBatch(ctx, cfg.ArchivePath, txns, started); err != nil {
			return err
		}
	}

	bus.Publish(events.Event{Type: events.EventSyncDone, Count: len(txns), Message: "sync complete"})
	return nil
}

// establishSession restores the stored pair, refreshing it, and falls
// back to a full interactive login when no usable token survives.
func establishSession(ctx context.Context, cfg *config.Config, authc *auth.Client, store *tokens.Store, bus *events.Bus) (tokens.Pair, error) {
	pair, ok, err := store.Load()
	if err != nil {
		// Storage trouble is surfaced but never blocks a fresh login.
		slog.Warn("token file unreadable", "path", store.Path, "error", err)
	}

	if ok && pair.Refresh != "" {
		next, err := authc.Refresh(ctx, pair)
		if err == nil {
			if err := store.Save(next); err != nil {
				slog.Warn("persist tokens failed", "error", err)
			}
			bus.Publish(events.Event{Type: events.EventRefresh, Message: "restored session"})
			return next, nil
		}
		if auth.KindOf(err) != auth.KindRefreshExpired {
			return tokens.Pair{}, fmt.Errorf("refresh session: %w", err)
		}
		slog.Info("stored refresh token expired, full login required")
	}

	pair, err = interactiveLogin(ctx, cfg, authc)
	if err != nil {
		return tokens.Pair{}, err
	}
	if err := store.Save(pair); err != nil {
		slog.Warn("persist tokens failed", "error", err)
	}
	bus.Publish(events.Event{Type: events.EventLogin, Message: "logged in"})
	return pair, nil
}

func interactiveLogin(ctx context.Context, cfg *config.Config, authc *auth.Client) (tokens.Pair, error) {
	reader := bufio.NewReader(os.Stdin)

	phone := cfg.PhoneNumber
	if phone == "" {
		phone = prompt(reader, "Phone number (+49...): ")
	}
	pin := cfg.PIN
	if pin == "" {
		pin = prompt(reader, "PIN: ")
	}

	processID, err := authc.BeginLogin(ctx, phone, pin)
	if err != nil {
		return tokens.Pair{}, fmt.Errorf("login: %w", err)
	}

	// An expired OTP just means the SMS took too long; re-prompting
	// against the same process is the documented recovery.
	for attempt := 1; ; attempt++ {
		otp := prompt(reader, "OTP: ")
		pair, err := authc.CompleteLogin(ctx, processID, otp)
		if err == nil {
			return pair, nil
		}
		if auth.KindOf(err) == auth.KindOTPExpired && attempt < 3 {
			slog.Warn("otp expired, try again")
			continue
		}
		return tokens.Pair{}, fmt.Errorf("verify otp: %w", err)
	}
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

// openStream dials the mux; a single auth rejection triggers one silent
// refresh and a second dial before giving up.
func openStream(ctx context.Context, cfg *config.Config, dialer *transport.Dialer, authc *auth.Client, store *tokens.Store, pair tokens.Pair) (*stream.Mux, error) {
	opts := stream.Options{
		URL:              cfg.WSURL,
		Origin:           cfg.Origin,
		UserAgent:        cfg.UserAgent,
		SessionToken:     pair.Session,
		ProtocolVersion:  cfg.ProtocolVersion,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Handshake: wire.Handshake{
			Locale:          cfg.Locale,
			PlatformID:      cfg.PlatformID,
			PlatformVersion: cfg.PlatformVersion,
			ClientID:        cfg.ClientID,
			ClientVersion:   cfg.ClientVersion,
		},
		NetDialTLSContext: dialer.DialTLSContext,
	}

	mux, err := stream.Dial(ctx, opts)
	if err == nil {
		return mux, nil
	}

	var serr *stream.Error
	if !errors.As(err, &serr) || serr.Kind != stream.KindAuthRejected {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	slog.Info("stream rejected session, refreshing once")
	next, rerr := authc.Refresh(ctx, pair)
	if rerr != nil {
		return nil, fmt.Errorf("refresh after rejection: %w", rerr)
	}
	if perr := store.Save(next); perr != nil {
		slog.Warn("persist tokens failed", "error", perr)
	}

	opts.SessionToken = next.Session
	mux, err = stream.Dial(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return mux, nil
}

func archiveBatch(ctx context.Context, path string, txns []timeline.Txn, started time.Time) error {
	arch, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer arch.Close()

	inserted, err := arch.UpsertBatch(ctx, txns)
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}

	run := archive.Run{
		ID:         uuid.New().String(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Items:      len(txns),
		Inserted:   inserted,
	}
	if err := arch.RecordRun(ctx, run); err != nil {
		return err
	}

	total, err := arch.Count(ctx)
	if err != nil {
		return err
	}
	slog.Info("archive updated", "path", path, "new", inserted, "total", total)
	return nil
}
