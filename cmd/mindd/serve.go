package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/nuka-mind/internal/api"
	"github.com/nidhogg/nuka-mind/internal/conscience"
	"github.com/nidhogg/nuka-mind/internal/deferral"
	"github.com/nidhogg/nuka-mind/internal/dma"
	"github.com/nidhogg/nuka-mind/internal/evaluator"
	"github.com/nidhogg/nuka-mind/internal/gateway"
	"github.com/nidhogg/nuka-mind/internal/guidance"
	"github.com/nidhogg/nuka-mind/internal/handler"
	"github.com/nidhogg/nuka-mind/internal/intake"
	"github.com/nidhogg/nuka-mind/internal/mcp"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/processor"
	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/worker"
)

// engineStore is everything the engine needs from persistence.
type engineStore interface {
	processor.Store
	worker.Recoverer
	handler.Store
	guidance.Store
	intake.Store
	api.Store
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine, gateways and operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context) error {
	var cleanup closers
	defer cleanup.run()

	// Persistence
	var st engineStore
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		pg, err := store.New(ctx, dsn, logger)
		if err != nil {
			return err
		}
		cleanup.add(pg.Close)
		st = pg
	} else {
		logger.Warn("no postgres dsn, using in-memory persistence")
		st = store.NewMemoryStore()
	}

	// Memory graph
	var mem handler.MemoryService = memory.NewLocal()
	if n := cfg.Database.Neo4j; n.URI != "" {
		g, err := memory.NewGraph(n.URI, n.User, n.Password, logger)
		if err != nil {
			return err
		}
		cleanup.add(func() { g.Close(context.Background()) })
		if err := g.EnsureSchema(ctx); err != nil {
			logger.Warn("neo4j schema setup failed, using local memory", zap.Error(err))
		} else {
			mem = g
		}
	}

	// Resonance history and worker wake-ups
	var respLog resonance.Log = resonance.NewMemoryLog()
	var bus *worker.WakeBus
	if url := cfg.Database.Redis.URL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		cleanup.add(func() { rdb.Close() })
		respLog = resonance.NewRedisLog(rdb)

		bus, err = worker.NewWakeBus(ctx, url, cfg.Engine.PollInterval.Duration, logger)
		if err != nil {
			logger.Warn("redis wake bus unavailable, workers will poll", zap.Error(err))
			bus = nil
		} else {
			cleanup.add(func() { bus.Close() })
		}
	}
	tracker := resonance.NewTracker(respLog, logger)

	// Gateways
	gw := gateway.NewGateway(logger)
	cleanup.add(func() { gw.Close() })
	rest := gateway.NewRESTAdapter(logger)
	if cfg.Gateway.REST.Enabled {
		gw.Register(rest)
		if platform, channel, err := gateway.SplitChannel(cfg.Deferral.Channel); err == nil && platform == "rest" {
			rest.OpenChannel(channel)
		}
	}
	if sc := cfg.Gateway.Slack; sc.Enabled {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, logger))
	}
	if dc := cfg.Gateway.Discord; dc.Enabled {
		gw.Register(gateway.NewDiscordAdapter(dc.BotToken, logger))
	}

	// Tools
	tools := mcp.NewTools(logger)
	cleanup.add(func() { tools.Close() })
	for _, sc := range cfg.MCP.Servers {
		c := mcp.NewClient(sc.Name, sc.URL, logger)
		if err := c.Connect(ctx); err != nil {
			logger.Warn("mcp server unavailable", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		tools.Add(c)
	}

	// Evaluation and conscience
	eval := evaluator.New(evaluator.Config{
		URL:     cfg.Evaluator.URL,
		APIKey:  cfg.Evaluator.APIKey,
		Timeout: cfg.Evaluator.Timeout.Duration,
	}, logger)
	exec := dma.NewExecutor(cfg.Engine.DMARetryLimit, logger, dma.WithTimeout(cfg.Engine.DMATimeout.Duration))
	orch := dma.NewOrchestrator(exec, dma.NewStoreContextBuilder(st), eval.Evaluators(), logger)
	guard := conscience.NewRegistry(logger, eval.Checks(
		cfg.Conscience.EntropyThreshold,
		cfg.Conscience.CoherenceThreshold,
		cfg.Conscience.EntropyReductionRatio,
	)...)

	// Handlers and processing
	dispatcher := handler.NewDefaultDispatcher(&handler.Deps{
		Store:          st,
		Sink:           gw,
		Tools:          tools,
		Memory:         mem,
		PriorityOffset: cfg.Engine.FollowUpPriorityOffset,
		Logger:         logger,
	}, handler.DeferConfig{
		Channel: cfg.Deferral.Channel,
		Tone:    deferral.Tone(cfg.Deferral.Tone),
	})
	proc := processor.New(st, orch, guard, dispatcher, processor.Config{
		CycleRetryLimit: cfg.Engine.CycleRetryLimit,
		MaxThoughtDepth: cfg.Engine.MaxThoughtDepth,
	}, logger)

	poolOpts := []worker.Option{worker.WithRecovery(st, cfg.Engine.StaleAfter.Duration)}
	if bus != nil {
		poolOpts = append(poolOpts, worker.WithSource(bus))
	}
	pool := worker.NewPool(proc, cfg.Engine.Workers, cfg.Engine.PollInterval.Duration, logger, poolOpts...)

	var notifier intake.Notifier = pool
	if bus != nil {
		notifier = bus
	}
	resolver := guidance.NewResolver(st, tracker, logger,
		guidance.WithNotifier(notifier),
		guidance.WithPriorityBump(cfg.Engine.GuidancePriorityBump))
	in := intake.New(st, resolver, gw, notifier, logger)
	gw.SetHandler(in.Handle)

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	var restMount *gateway.RESTAdapter
	if cfg.Gateway.REST.Enabled {
		restMount = rest
	}
	h := api.NewHandler(api.Deps{
		Store:    st,
		Intake:   in,
		Resolver: resolver,
		Tools:    tools,
		Pool:     pool,
		Gateway:  gw,
		REST:     restMount,
	}, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("mindd starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Engine.Workers),
		zap.Strings("adapters", gw.Adapters()),
		zap.Strings("tools", tools.AvailableTools()),
		zap.Strings("conscience", guard.Names()),
		zap.Bool("wake_bus", bus != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	stats := pool.Stats()
	logger.Info("mindd stopped", zap.Int64("processed", stats.Processed), zap.Int64("errors", stats.Errors))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
