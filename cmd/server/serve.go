package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/restock/internal/adapter/handler"
	"github.com/rl1809/restock/internal/adapter/messaging"
	"github.com/rl1809/restock/internal/adapter/storage"
	"github.com/rl1809/restock/internal/config"
	"github.com/rl1809/restock/internal/core/service"
	"github.com/rl1809/restock/internal/port"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	if cfg.SeedFile != "" {
		seed, err := storage.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := store.ApplySeed(ctx, seed); err != nil {
			return err
		}
		logger.Info("seed applied", zap.String("file", cfg.SeedFile))
	}

	checks := map[string]handler.Pinger{"database": store}
	deps := service.Deps{
		Store:   store,
		Routes:  store,
		Devices: store,
		Logger:  logger,
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		cache := storage.NewRedisAdapter(rdb, cfg.Redis.PickListTTL)
		if err := cache.Ping(ctx); err != nil {
			return err
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		deps.Cache = cache
		checks["redis"] = cache
	}

	var publisher port.EventPublisher = messaging.NewLogPublisher(logger)
	if cfg.AMQP.Enabled {
		conn, ch, err := messaging.SetupConn(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		publisher = messaging.NewPublisher(ch, cfg.AMQP.Exchange)
		logger.Info("connected to rabbitmq", zap.String("exchange", cfg.AMQP.Exchange))
	}

	dispatcher := service.NewEventDispatcher(publisher, cfg.Events.QueueSize, logger.Named("events"))
	dispatcher.Start(cfg.Events.Workers)
	defer dispatcher.Close()
	deps.Events = dispatcher

	engine := service.NewEngine(cfg.ServiceConfig(), deps)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor(logger.Named("grpc"))))
		handler.RegisterFulfillmentServer(grpcServer, handler.NewGRPCHandler(engine, logger.Named("grpc")))

		g.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
			return nil
		})
	}

	if cfg.HTTP.Addr != "" {
		httpServer := &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      handler.NewHTTPHandler(engine, checks, logger.Named("http")).Router(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			err := httpServer.Shutdown(shutdownCtx)
			logger.Info("HTTP server stopped")
			return err
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
