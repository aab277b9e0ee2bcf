package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/argenta/argenta-backend/internal/api"
	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/config"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/jobs"
	"github.com/argenta/argenta-backend/internal/journal"
	"github.com/argenta/argenta-backend/internal/log"
	"github.com/argenta/argenta-backend/internal/metrics"
	"github.com/argenta/argenta-backend/internal/prices/mock"
	"github.com/argenta/argenta-backend/internal/protocol"
	"github.com/argenta/argenta-backend/internal/repository"
	"github.com/argenta/argenta-backend/internal/store"
	"github.com/argenta/argenta-backend/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	genesis, err := config.LoadGenesis(cfg.Protocol.GenesisPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load genesis: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(log.Options{Env: cfg.Env, Service: "argenta-api", Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Argenta API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"price_provider", cfg.Prices.Provider,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("argenta-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	// Setup cache; an empty address keeps everything in process
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()
	if err := cache.Ping(initCtx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}

	// Event sinks are attached before the protocol exists so genesis
	// configuration events are captured too.
	bus := events.NewBus(logger)
	bus.Subscribe(events.NewLogSink(logger))
	bus.Subscribe(store.NewEventSink(cache))

	eventJournal, err := journal.Open(journal.Config{
		Dir:              cfg.Journal.Dir,
		SegmentThreshold: cfg.Journal.SegmentThreshold,
		MaxSegments:      cfg.Journal.MaxSegments,
		SyncWrites:       cfg.Journal.SyncWrites,
	})
	if err != nil {
		logger.Fatalw("Failed to open event journal", "error", err)
	}
	defer eventJournal.Close()
	lastSeq, err := eventJournal.LastSeq()
	if err != nil {
		logger.Fatalw("Failed to read event journal", "error", err)
	}
	bus.Resume(lastSeq)
	bus.Subscribe(eventJournal)

	eventStore, closeStore := openEventStore(initCtx, cfg, logger)
	defer closeStore()
	if recs, err := eventJournal.After(0, 0); err != nil {
		logger.Warnw("Failed to read journal for backfill", "error", err)
	} else if n, err := repository.Backfill(initCtx, eventStore, recs); err != nil {
		logger.Warnw("Event backfill failed", "error", err)
	} else if n > 0 {
		logger.Infow("Backfilled events from journal", "count", n)
	}
	bus.Subscribe(repository.NewSink(eventStore, logger))

	// Assemble the protocol
	p, err := protocol.New(initCtx, protocol.Options{
		Protocol:     cfg.Protocol,
		Prices:       cfg.Prices,
		OracleMaxAge: cfg.Oracle.MaxAge,
		Genesis:      genesis,
		Bus:          bus,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalw("Failed to assemble protocol", "error", err)
	}
	if err := metricsObj.ObserveTotalDebt(func() float64 {
		return calc.ToDecimal(p.Debt.TotalDebt(), p.Stable.Decimals()).InexactFloat64()
	}); err != nil {
		logger.Warnw("Failed to register total debt gauge", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Mock prices wander on their own schedule
	if gen, ok := p.Provider.(*mock.Generator); ok {
		g.Go(func() error {
			gen.Run(gctx, cfg.Prices.PollInterval)
			return nil
		})
	}

	assets := make([]jobs.PricedAsset, 0, len(p.Assets()))
	for _, a := range p.Assets() {
		assets = append(assets, jobs.PricedAsset{Address: a.Token.Address(), Symbol: a.Token.Symbol()})
	}
	publisher := jobs.NewPricePublisher(p.Oracle, assets, cache, log.Component(logger, "prices"), jobs.PricePublisherConfig{
		PollInterval: cfg.Prices.PollInterval,
	})
	g.Go(func() error { return ignoreCanceled(publisher.Start(gctx)) })

	if cfg.Keeper.Enabled {
		keeper := jobs.NewKeeper(p.Vault, p.Liquidation, cache, metricsObj, log.Component(logger, "keeper"), jobs.KeeperConfig{
			Interval: cfg.Keeper.Interval,
			Identity: cfg.Keeper.Identity(),
		})
		g.Go(func() error { return ignoreCanceled(keeper.Start(gctx)) })
	}

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, log.Component(logger, "ws"), metricsObj, cfg.Security.CORSAllowedOrigins)
	sseHandler := ws.NewSSEHandler(cache, log.Component(logger, "sse"), metricsObj)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	// Setup API handler and middleware
	handler := api.NewHandler(p, eventStore, wsHub, sseHandler, cache, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g.Go(func() error {
		logger.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutting down")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalw("Server stopped with error", "error", err)
	}
	logger.Infow("Server stopped", "last_seq", bus.LastSeq())
}

// openEventStore connects to Postgres when a DSN is configured and falls
// back to the in-memory store otherwise.
func openEventStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.EventStore, func()) {
	if cfg.Database.PostgresDSN == "" {
		logger.Infow("No database configured, keeping events in memory")
		return repository.NewMemoryStore(), func() {}
	}
	repo, err := repository.Open(ctx, cfg.Database.PostgresDSN, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize database", "error", err)
	}
	logger.Infow("Database connection established")
	return repo, func() { repo.Close() }
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
