package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"crateclash/internal/client"
	"crateclash/internal/clock"
	"crateclash/internal/config"
	"crateclash/internal/input"
	"crateclash/internal/net/ws"
	"crateclash/internal/telemetry"
	"crateclash/internal/terminal"
)

var reconnectDelay = time.Second

type ClientOptions struct {
	// URL overrides SERVER_URL when set.
	URL    string
	Lookup func(string) (string, bool)
	// Screen replaces the process terminal, e.g. with a simulation screen.
	Screen tcell.Screen
	// LogOutput receives process logs. The terminal owns stdout, so the
	// default is LOG_FILE when set and nowhere otherwise.
	LogOutput io.Writer
}

// RunClient plays until the user quits, ctx is cancelled, or the session
// fails. A failed session returns an error wrapping client.ErrClockDesync.
func RunClient(ctx context.Context, opts ClientOptions) error {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	out := opts.LogOutput
	if out == nil {
		out = io.Discard
		if path, ok := lookup("LOG_FILE"); ok && path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}
	}
	logger := telemetry.NewLogrus(out, lookup)
	cfg := config.FromEnv(lookup, logger)
	if opts.URL != "" {
		cfg.ServerURL = opts.URL
	}

	router, closeRouter, err := newRouter(cfg, logger, lookup)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := closeRouter(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	screen := opts.Screen
	if screen == nil {
		screen, err = terminal.Open()
		if err != nil {
			return fmt.Errorf("failed to open terminal: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var session *client.Session
	term := terminal.New(screen, terminal.Config{Bindings: cfg.KeyBindings, Hold: cfg.KeyHold}, func(key input.Key, isDown bool) {
		session.HandleKey(key, isDown)
	})
	term.Renderer.Width = float64(cfg.CanvasWidth)
	term.Renderer.Height = float64(cfg.CanvasHeight)

	transport := ws.NewClient(ws.ClientConfig{
		URL:   cfg.ServerURL,
		Codec: cfg.Codec(),
		Lag: ws.LagConfig{
			RoundTrip: cfg.FakeLag,
			Variation: cfg.FakeLagVariation,
			Seed:      time.Now().UnixNano(),
		},
		Logger:     logger,
		Publisher:  router,
		LogTraffic: cfg.LogNetworkTraffic,
	})

	sessionCfg := client.DefaultConfig()
	sessionCfg.Latency = cfg.Latency
	sessionCfg.LogKeyEvents = cfg.LogKeyEvents
	session = client.NewSession(sessionCfg, client.Deps{
		Clock:     clock.New(clock.DefaultPeriod),
		Transport: transport,
		Renderer:  term.Renderer,
		Logger:    logger,
		Metrics:   telemetry.NewCounters(),
		Publisher: router,
	})

	go func() {
		<-ctx.Done()
		transport.Close()
		term.Close()
	}()
	go term.Run(cancel)
	go maintainConnection(ctx, transport, logger)

	err = session.Run(ctx)
	cancel()
	if err != nil {
		logger.Printf("session ended: %v", err)
		if errors.Is(err, client.ErrClockDesync) {
			return err
		}
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}

type dialer interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// maintainConnection dials whenever the transport is down. The session sees
// every reconnect as a fresh connection and recalibrates.
func maintainConnection(ctx context.Context, transport dialer, logger telemetry.Logger) {
	ticker := time.NewTicker(reconnectDelay)
	defer ticker.Stop()
	for {
		if !transport.Connected() {
			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := transport.Connect(dialCtx); err != nil && ctx.Err() == nil {
				logger.Printf("connect failed: %v", err)
			}
			cancel()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
