package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/config"
	dbRedis "github.com/kailas-cloud/splitsearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/repository/footercache"
	"github.com/kailas-cloud/splitsearch/internal/repository/metastore"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/storage"
	"github.com/kailas-cloud/splitsearch/internal/tracing"
	chiTransport "github.com/kailas-cloud/splitsearch/internal/transport/chi"
	grpcTransport "github.com/kailas-cloud/splitsearch/internal/transport/grpc"
	"github.com/kailas-cloud/splitsearch/internal/usecase/fetch"
	healthuc "github.com/kailas-cloud/splitsearch/internal/usecase/health"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
	"github.com/kailas-cloud/splitsearch/internal/usecase/listterms"
	"github.com/kailas-cloud/splitsearch/internal/usecase/root"
	"github.com/kailas-cloud/splitsearch/internal/usecase/stream"
	"github.com/kailas-cloud/splitsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("node_id", cfg.Node.ID))

	logger.Info("Starting splitsearch node",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("cluster_size", len(cfg.Cluster.Nodes)),
	)

	ctx := context.Background()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "splitsearch",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		NodeID:      cfg.Node.ID,
	})
	if err != nil {
		logger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	metrics.RegisterSearchMetrics()

	meta, footers, closeStore, err := buildMetastore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open metastore", zap.Error(err))
	}
	defer closeStore()

	opener := splitfile.NewOpener(storage.NewResolver(cfg.Storage.Root), footers)

	// Leaf side: what this node does for any root
	leafSvc := leaf.New(
		leaf.NewExecutor(opener, cfg.Searcher.AggregationBucketLimit),
		cfg.Searcher.MaxConcurrentSplitSearches, logger,
	)
	fetcher := fetch.New(opener, cfg.Searcher.FetchConcurrency, logger)
	leafStream := stream.NewLeafExecutor(opener, cfg.Searcher.MaxConcurrentSplitStreams, logger)
	leafTerms := listterms.NewLeafService(opener, cfg.Searcher.ListTermsConcurrency, logger)

	nodes := make([]cluster.Node, len(cfg.Cluster.Nodes))
	for i, n := range cfg.Cluster.Nodes {
		nodes[i] = cluster.Node{ID: n.ID, GRPCAddr: n.GRPCAddr}
	}
	pool, err := cluster.Build(cfg.Node.ID, nodes,
		cluster.NewLocal(leafSvc, fetcher, leafStream, leafTerms),
		func(n cluster.Node) (cluster.Client, error) { return grpcTransport.Dial(n.GRPCAddr) },
	)
	if err != nil {
		logger.Fatal("Failed to build cluster pool", zap.Error(err))
	}
	defer func() { _ = pool.Close() }()

	// Root side: fan-out over the pool
	leafTimeout := time.Duration(cfg.Searcher.LeafTimeoutSec) * time.Second
	rootSvc := root.New(meta, pool, leafTimeout, logger)
	rootStream := stream.NewRootService(meta, pool, logger)
	rootTerms := listterms.NewRootService(meta, pool, leafTimeout, logger)
	healthSvc := healthuc.New(meta, pool)

	// gRPC server
	grpcServer := grpcTransport.NewGRPCServer(grpcTransport.NewServer(cfg.Node.ID, grpcTransport.Services{
		Root:      rootSvc,
		Leaf:      leafSvc,
		Fetch:     fetcher,
		Stream:    leafStream,
		RootTerms: rootTerms,
		LeafTerms: leafTerms,
	}, logger), logger)
	grpcAddr := fmt.Sprintf(":%d", cfg.Node.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("addr", grpcAddr), zap.Error(err))
	}

	// HTTP server
	server := chiTransport.NewServer(rootSvc, rootStream, rootTerms, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting gRPC server", zap.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	stopGRPC(shutdownCtx, grpcServer.GracefulStop, grpcServer.Stop)
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", zap.Error(err))
	}

	logger.Info("Node stopped gracefully")
}

// buildMetastore opens the configured metastore. With Redis, the same connection backs
// the footer cache when a TTL is configured.
func buildMetastore(
	ctx context.Context, cfg config.Config, logger *zap.Logger,
) (metastore.Metastore, splitfile.FooterCache, func(), error) {
	if cfg.Metastore.Driver != config.MetastoreRedis {
		logger.Info("Using file metastore", zap.String("path", cfg.Metastore.Path))
		return metastore.NewFile(cfg.Metastore.Path), nil, func() {}, nil
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Metastore.Addrs,
		Password:   cfg.Metastore.Password,
		ClientName: "splitsearch:" + cfg.Node.ID,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create redis store: %w", err)
	}
	timeout := time.Duration(cfg.Metastore.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("redis not ready: %w", err)
	}
	logger.Info("Connected to redis metastore", zap.Strings("addrs", cfg.Metastore.Addrs))

	var footers splitfile.FooterCache
	if cfg.Searcher.FooterCacheTTLSec > 0 {
		ttl := time.Duration(cfg.Searcher.FooterCacheTTLSec) * time.Second
		footers = footercache.New(store, ttl, metrics.FooterCacheTotal, logger)
	}
	return metastore.NewRedis(store), footers, store.Close, nil
}

// stopGRPC drains in-flight calls until ctx expires, then cuts them off.
func stopGRPC(ctx context.Context, graceful, force func()) {
	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		force()
		<-done
	}
}
