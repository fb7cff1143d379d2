package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/api"
	"github.com/blakecragen/cluster/artifact"
	artmem "github.com/blakecragen/cluster/artifact/memory"
	artminio "github.com/blakecragen/cluster/artifact/minio"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/nodes"
	"github.com/blakecragen/cluster/observability"
	"github.com/blakecragen/cluster/store"
	"github.com/blakecragen/cluster/store/memory"
	"github.com/blakecragen/cluster/store/postgres"
	redisstore "github.com/blakecragen/cluster/store/redis"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	config   string
	port     int
	store    string
	logLevel string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Example: `  # in-memory state, MinIO on localhost
  coordinator serve

  # Redis state store and a config file
  coordinator serve --config coordinator.yaml --store redis`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&f.port, "port", 0, "HTTP port (overrides config)")
	cmd.Flags().StringVar(&f.store, "store", "", "state store: memory, redis or postgres (overrides config)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, f serveFlags) error {
	cfg, err := cluster.LoadConfig(f.config)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("store") {
		cfg.StoreBackend = f.store
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cluster.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	arts, err := openArtifacts(ctx, cfg, logger)
	if err != nil {
		return err
	}

	lister, err := nodes.FromKubeconfig(cfg.Kubeconfig, nodes.WithLogger(logger))
	if err != nil {
		logger.Warn("node query disabled", slog.String("error", err.Error()))
	}

	coord := coordinator.New(st, arts, append(coordinator.FromConfig(cfg),
		coordinator.WithLogger(logger),
		coordinator.WithExtension(observability.NewMetricsExtension()),
		coordinator.WithExtension(observability.NewLoggingExtension(logger)),
	)...)
	srv := api.New(coord, append(api.FromConfig(cfg),
		api.WithLogger(logger),
		api.WithNodes(lister),
	)...)

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), coord.Stop(sctx))
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg cluster.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case cluster.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
		})
		st := redisBackend{Store: redisstore.New(client, redisstore.WithLogger(logger)), client: client}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr(), err)
		}
		return st, nil
	case cluster.BackendPostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		logger.Warn("using in-memory state store; state is lost on restart")
		return memory.New(), nil
	}
}

// redisBackend closes the client the redis store was built on.
type redisBackend struct {
	*redisstore.Store
	client *goredis.Client
}

func (b redisBackend) Close() error { return b.client.Close() }

func openArtifacts(ctx context.Context, cfg cluster.Config, logger *slog.Logger) (artifact.Store, error) {
	if cfg.ArtifactBackend == cluster.ArtifactMemory {
		logger.Warn("using in-memory artifact store; inputs and results are lost on restart")
		return artmem.New(), nil
	}
	arts, err := artminio.New(cfg.MinioEndpoint(), cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL,
		artminio.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := arts.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	return arts, nil
}
