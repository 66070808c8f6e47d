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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/mer/internal/api"
	"github.com/nidhogg/mer/internal/config"
	"github.com/nidhogg/mer/internal/embedding"
	"github.com/nidhogg/mer/internal/graphstore"
	"github.com/nidhogg/mer/internal/memory"
	"github.com/nidhogg/mer/internal/replicate"
	"github.com/nidhogg/mer/internal/seedbus"
	"github.com/nidhogg/mer/internal/seedstore"
	"github.com/nidhogg/mer/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting memory node", zap.String("node", cfg.Node.ID), zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding capability
	provider, err := embedding.NewProvider(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		Endpoint:       cfg.Embedding.Endpoint,
		Model:          cfg.Embedding.Model,
		APIKey:         cfg.Embedding.APIKey,
		Dimension:      cfg.Embedding.Dimension,
		TimeoutSeconds: cfg.Embedding.TimeoutSeconds,
	})
	if err != nil {
		logger.Fatal("invalid embedding config", zap.Error(err))
	}
	port := embedding.NewPort(provider, logger.Named("embedding"))
	if !port.Active() {
		logger.Info("No embedding provider, using lexical matching")
	}

	policy, err := memory.ParseCollisionPolicy(cfg.Memory.TriggerPolicy)
	if err != nil {
		logger.Fatal("invalid memory config", zap.Error(err))
	}
	sys := memory.New(memory.Options{NodeID: cfg.Node.ID, TriggerPolicy: policy}, port, logger.Named("memory"))

	// Replication sinks. Each one is optional.
	var (
		sinks   []replicate.Sink
		deps    = api.Deps{Embedder: port}
		bus     *seedbus.Bus
		closers []func()
	)

	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := seedstore.New(ctx, cfg.Database.Postgres.DSN, logger.Named("seedstore"))
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without bundle archive", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			sinks = append(sinks, replicate.ArchiveSink(ps))
			deps.Archive = ps
			closers = append(closers, ps.Close)
		}
	}

	if cfg.Database.Redis.URL != "" {
		b, busErr := seedbus.New(ctx, seedbus.Options{
			URL:    cfg.Database.Redis.URL,
			MaxLen: cfg.Database.Redis.StreamMaxLen,
		}, logger.Named("seedbus"))
		if busErr != nil {
			logger.Warn("Redis unavailable, running without seed bus", zap.Error(busErr))
		} else {
			bus = b
			sinks = append(sinks, replicate.BusSink(b))
			deps.Peers = b
			closers = append(closers, func() { b.Close() })
		}
	}

	if cfg.Database.Neo4j.URI != "" {
		graph, gErr := graphstore.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger.Named("graphstore"))
		if gErr == nil {
			gErr = graph.Ping(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without graph mirror", zap.Error(gErr))
		} else {
			sinks = append(sinks, replicate.GraphSink(graph))
			deps.Graph = graph
			closers = append(closers, func() { graph.Close(context.Background()) })
		}
	}

	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		}, logger.Named("vectorstore"))
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without vector index", zap.Error(qErr))
		} else {
			sinks = append(sinks, replicate.VectorSink(qc, cfg.Database.Qdrant.Collection))
			deps.Vectors = qc
			deps.Collection = cfg.Database.Qdrant.Collection
			closers = append(closers, func() { qc.Close() })
		}
	}

	if len(sinks) > 0 {
		deps.Replicator = replicate.New(sinks, 30*time.Second, logger.Named("replicate"))
		logger.Info("Replication configured", zap.Strings("sinks", deps.Replicator.Sinks()))
	}

	handler := api.NewHandler(sys, deps, logger.Named("api"))

	if deps.Replicator != nil && cfg.Replication.IntervalSeconds > 0 {
		interval := time.Duration(cfg.Replication.IntervalSeconds) * time.Second
		go deps.Replicator.Loop(ctx, interval, handler.Locker(), sys)
		logger.Info("Periodic replication started", zap.Duration("interval", interval))
	}

	if peers := cfg.Replication.Peers(); len(peers) > 0 {
		if bus == nil {
			logger.Warn("follow_peers set but no seed bus is available", zap.Strings("peers", peers))
		}
		for _, peer := range peers {
			if bus == nil || peer == cfg.Node.ID {
				continue
			}
			go replicate.Follow(ctx, bus.Subscribe(ctx, peer, "$"), handler.Locker(), sys, logger.Named("follow"))
			logger.Info("Following peer", zap.String("peer", peer), zap.String("stream", seedbus.Stream(peer)))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Memory node listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down memory node...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
