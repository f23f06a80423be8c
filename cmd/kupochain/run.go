package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kupochain/indexer/internal/api"
	"github.com/kupochain/indexer/internal/chainsync"
	"github.com/kupochain/indexer/internal/config"
	"github.com/kupochain/indexer/internal/consumer"
	"github.com/kupochain/indexer/internal/gardener"
	"github.com/kupochain/indexer/internal/health"
	"github.com/kupochain/indexer/internal/logging"
	"github.com/kupochain/indexer/internal/mailbox"
	"github.com/kupochain/indexer/internal/registry"
	"github.com/kupochain/indexer/internal/store"
	"github.com/kupochain/indexer/pkg/chain"
)

// run wires Config -> Store -> Registry -> Mailbox -> ChainSyncClient ->
// Consumer -> Gardener -> HTTP server, then blocks until ctx is
// cancelled (SIGINT/SIGTERM), tearing every goroutine down in order.
func run(ctx context.Context, configPath, logLevelOverride string, logJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("kupochain: %w", err)
	}
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}
	if logJSON {
		cfg.LogJSON = true
	}

	logging.Init(logging.Config{Level: logging.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	log := logging.WithComponent("main")
	log.Info().Interface("config", cfg.Summary()).Msg("starting kupochain")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		return fmt.Errorf("kupochain: open store: %w", err)
	}
	defer st.Close()

	reg, err := registry.New(ctx, st)
	if err != nil {
		return fmt.Errorf("kupochain: load registry: %w", err)
	}
	if reg.Len() == 0 && len(cfg.InitialPatterns) > 0 {
		patterns := make([]chain.Pattern, 0, len(cfg.InitialPatterns))
		for _, text := range cfg.InitialPatterns {
			p, err := chain.ParsePattern(text)
			if err != nil {
				return fmt.Errorf("kupochain: initial pattern %q: %w", text, err)
			}
			patterns = append(patterns, p)
		}
		if err := reg.Insert(ctx, patterns); err != nil {
			return fmt.Errorf("kupochain: insert initial patterns: %w", err)
		}
		log.Info().Int("count", len(patterns)).Msg("seeded initial patterns")
	}

	tracker := health.New(cfg.Summary())

	knownPoints, err := resumePoints(ctx, st)
	if err != nil {
		return fmt.Errorf("kupochain: resume points: %w", err)
	}

	var client chainsync.Client
	switch cfg.ChainProducer {
	case config.ProducerOgmios:
		client = chainsync.NewOgmiosClient(cfg.OgmiosURL)
	default:
		client = chainsync.NewDirectClient(cfg.NodeSocket, cfg.NetworkMagic)
	}

	mb := mailbox.New(cfg.MailboxCapacity)
	defer mb.Close()

	cons := consumer.New(st, reg, tracker, cfg.InputManagement, cfg.StabilityWindow)
	gard := gardener.New(st, tracker, cfg.InputManagement, cfg.StabilityWindow, cfg.PruneThrottleDelay)

	handler := api.NewHandler(st, reg, tracker, client, gard, cfg.LongestRollback)
	httpServer := &http.Server{
		Addr:    cfg.HTTPBindAddress,
		Handler: api.SetupRouter(handler),
	}

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	runTask := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	runTask("chain-sync client", func() error {
		tracker.SetConnectionStatus(chain.ConnectionConnecting)
		return client.Run(ctx, knownPoints, mb)
	})
	runTask("consumer", func() error { return cons.Run(ctx, mb) })
	runTask("gardener", func() error { return gard.Run(ctx) })
	runTask("http server", func() error {
		log.Info().Str("addr", cfg.HTTPBindAddress).Msg("http control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errs:
		log.Error().Err(err).Msg("service exited unexpectedly, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	mb.Close()
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// resumePoints returns the producer intersection points to offer
// chain-sync on startup, most recent first: the most recent checkpoint
// followed by Genesis, or Genesis alone when the store has none.
func resumePoints(ctx context.Context, st store.Store) ([]chain.Point, error) {
	cp, ok, err := st.MostRecentCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []chain.Point{chain.GenesisPoint}, nil
	}
	return []chain.Point{cp.Point(), chain.GenesisPoint}, nil
}
