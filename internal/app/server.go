// Package app wires the server and client processes together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"time"

	"crateclash/internal/clock"
	"crateclash/internal/config"
	"crateclash/internal/hub"
	servernet "crateclash/internal/net"
	"crateclash/internal/net/ws"
	"crateclash/internal/telemetry"
)

type ServerOptions struct {
	// Addr overrides SERVER_ADDR when set.
	Addr   string
	Lookup func(string) (string, bool)
	Output io.Writer
}

// RunServer serves the authority until ctx is cancelled.
func RunServer(ctx context.Context, opts ServerOptions) error {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	logger := telemetry.NewLogrus(opts.Output, lookup)
	cfg := config.FromEnv(lookup, logger)
	if opts.Addr != "" {
		cfg.ServerAddr = opts.Addr
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

	counters := telemetry.NewCounters()
	gameClock := clock.New(clock.DefaultPeriod)

	hubCfg := hub.DefaultConfig()
	hubCfg.StateInterval = cfg.StateInterval
	hubCfg.Seed = cfg.WorldSeed
	authority := hub.New(hubCfg, hub.Deps{
		Clock:     gameClock,
		Logger:    logger,
		Metrics:   counters,
		Publisher: router,
	})

	socket := ws.NewHandler(authority, ws.HandlerConfig{
		Codec:      cfg.Codec(),
		Logger:     logger,
		Metrics:    counters,
		Publisher:  router,
		LogTraffic: cfg.LogNetworkTraffic,
	})
	handler := servernet.NewHTTPHandler(authority, servernet.HTTPHandlerConfig{
		Logger:     logger,
		Counters:   counters,
		Router:     router,
		TickPeriod: gameClock.Period(),
		Socket:     socket,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- authority.Run(ctx)
	}()

	srv := &nethttp.Server{Addr: cfg.ServerAddr, Handler: handler}
	go func() {
		logger.Printf("server listening on %s (codec %s)", srv.Addr, cfg.WireCodec)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
