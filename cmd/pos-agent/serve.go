package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dickson-Hardy/pos-client-go/internal/config"
	"github.com/Dickson-Hardy/pos-client-go/pkg/auth"
	"github.com/Dickson-Hardy/pos-client-go/pkg/cache"
	"github.com/Dickson-Hardy/pos-client-go/pkg/connectivity"
	"github.com/Dickson-Hardy/pos-client-go/pkg/coordinator"
	"github.com/Dickson-Hardy/pos-client-go/pkg/kvstore"
	"github.com/Dickson-Hardy/pos-client-go/pkg/logging"
	"github.com/Dickson-Hardy/pos-client-go/pkg/syncqueue"
	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent",
		Long:  "Starts the resilience layer and serves the local HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(flagConfigPath, config.ReadEnvOverrides())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Resolved) error {
	if cfg.BackendURL == "" {
		return fmt.Errorf("backend.url is required (config [backend] or %s)", config.EnvBackendURL)
	}

	logger := setupLogging(cfg)
	ctx := shutdownContext(parent, logger)

	// Redis keeps the credential and the offline queue across restarts;
	// without it both die with the process.
	kv, closeKV, err := openKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	mirror := newCookieMirror()

	store, err := auth.NewCredentialStore(auth.StoreConfig{
		KV:              kv,
		Mirror:          mirror,
		SessionLifetime: cfg.SessionLifetime,
	})
	if err != nil {
		return err
	}

	refresher, err := auth.NewTokenRefresher(auth.RefresherConfig{
		Store:   store,
		BaseURL: cfg.BackendURL,
	})
	if err != nil {
		return err
	}

	if err := store.Restore(ctx, refresher.Validate); err != nil {
		if !errors.Is(err, auth.ErrValidationDeferred) {
			return fmt.Errorf("restore credential: %w", err)
		}
		logger.Warn().Msg("Restored credential not validated yet, backend unreachable")
	}

	monitor, err := connectivity.NewMonitor(connectivity.Config{
		Probe:    connectivity.HTTPProbe(cfg.BackendURL+cfg.ProbePath, nil),
		Interval: cfg.ProbeInterval,
	})
	if err != nil {
		return err
	}

	tr, err := transport.New(transport.Config{
		BaseURL:        cfg.BackendURL,
		Credentials:    store,
		Refresher:      refresher,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		Retry: transport.RetryConfig{
			MaxRetries:     cfg.RetryMax,
			InitialBackoff: cfg.RetryInitial,
			MaxBackoff:     cfg.RetryCap,
		},
		OnNetworkError: monitor.ReportOffline,
		OnAuthFailure: func() {
			// A token the backend will not renew ends the session.
			if err := store.Clear(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("Failed to clear credential after auth failure")
			}
		},
	})
	if err != nil {
		return err
	}

	readCache, err := cache.New[[]byte](cache.Config{
		Name:       "reads",
		Capacity:   cfg.CacheCapacity,
		DefaultTTL: cfg.CacheTTL,
	})
	if err != nil {
		return err
	}

	// The queue replays through the coordinator, which is built after
	// the queue. The closure captures the variable; nothing drains
	// before Start, by which time it is assigned.
	var coord *coordinator.Coordinator
	queue, err := syncqueue.New(syncqueue.Config{
		KV: kv,
		Replay: func(ctx context.Context, op syncqueue.Operation) error {
			return coord.ReplayOperation(ctx, op)
		},
		MaxRetries:    cfg.QueueRetries,
		DrainInterval: cfg.DrainInterval,
	})
	if err != nil {
		return err
	}

	coordCfg := coordinator.Config{
		Transport: tr,
		Cache:     readCache,
		Queue:     queue,
		Monitor:   monitor,
	}
	if cfg.BatchEnabled {
		coordCfg.Batch = &coordinator.BatchConfig{
			Dispatch: batchDispatch(tr),
			Window:   cfg.BatchWindow,
			MaxSize:  cfg.BatchMaxSize,
		}
	}
	coord, err = coordinator.New(coordCfg)
	if err != nil {
		return err
	}

	timer, err := auth.NewSessionTimer(auth.TimerConfig{
		Store:         store,
		WarningWindow: cfg.WarningWindow,
		CheckInterval: cfg.CheckInterval,
	})
	if err != nil {
		return err
	}

	// Queued mutations drain as soon as the backend is back.
	unsubscribe := monitor.Subscribe(func(online bool) {
		if online {
			queue.Kick()
		}
	})
	defer unsubscribe()

	monitor.Start(ctx)
	defer monitor.Stop()
	coord.Start(ctx)
	defer coord.Close()
	queue.Start(ctx)
	defer queue.Stop()
	timer.Start(ctx)
	defer timer.Stop()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: newAgentHandler(agentDeps{
			coord:      coord,
			store:      store,
			timer:      timer,
			monitor:    monitor,
			queue:      queue,
			defaultTTL: cfg.CacheTTL,
		}, mirror),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen", cfg.Listen).
			Str("backend", cfg.BackendURL).
			Msg("Agent listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func setupLogging(cfg *config.Resolved) zerolog.Logger {
	pretty := cfg.LogFormat == "console" ||
		(cfg.LogFormat == "auto" && isatty.IsTerminal(os.Stderr.Fd()))

	return logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: pretty,
	})
}

// openKV connects the configured persistence backend. The returned
// func releases it.
func openKV(ctx context.Context, cfg *config.Resolved, logger zerolog.Logger) (kvstore.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("No redis configured, offline queue will not survive restarts")
		return kvstore.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
	}

	logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
	return kvstore.NewRedis(client, cfg.RedisPrefix), func() { client.Close() }, nil
}

// batchDispatch sends coalesced read payloads to the backend's batch
// endpoint and returns its per-id results.
func batchDispatch(tr *transport.Transport) coordinator.BatchFunc {
	return func(ctx context.Context, reqs map[string]json.RawMessage) (map[string]json.RawMessage, error) {
		payload, err := json.Marshal(reqs)
		if err != nil {
			return nil, fmt.Errorf("encode batch: %w", err)
		}

		resp, err := tr.Do(ctx, http.MethodPost, "/batch", payload)
		if err != nil {
			return nil, err
		}

		var results map[string]json.RawMessage
		if err := json.Unmarshal(resp.Body, &results); err != nil {
			return nil, fmt.Errorf("decode batch reply: %w", err)
		}
		return results, nil
	}
}

// shutdownContext cancels on the first SIGINT/SIGTERM and force-exits
// on the second, so a hung drain cannot trap the operator.
func shutdownContext(parent context.Context, logger zerolog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down gracefully")
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
