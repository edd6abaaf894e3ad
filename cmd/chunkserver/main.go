// Package main provides the chunk server binary: one world ticked at a fixed
// rate, with optional ticket persistence and a debug gRPC service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/chunkmap/internal/chunkserver"
	"github.com/cory-johannsen/chunkmap/internal/config"
	"github.com/cory-johannsen/chunkmap/internal/debugrpc"
	"github.com/cory-johannsen/chunkmap/internal/observability"
	"github.com/cory-johannsen/chunkmap/internal/server"
	"github.com/cory-johannsen/chunkmap/internal/storage/postgres"
	"github.com/cory-johannsen/chunkmap/internal/storage/snapshot"
	"github.com/cory-johannsen/chunkmap/internal/ticket"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	autosave := flag.Int("autosave-ticks", 6000, "save dirty tickets every N ticks; 0 disables")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("server", cfg.Server.Name))

	registry := ticket.NewRegistry()
	if cfg.Tickets.TypesFile != "" {
		if err := registry.LoadInto(cfg.Tickets.TypesFile); err != nil {
			logger.Fatal("loading ticket types", zap.Error(err))
		}
		logger.Info("ticket types loaded", zap.Int("count", len(registry.All())))
	}

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	var store ticket.Store
	switch cfg.Persistence.Backend {
	case "file":
		store = snapshot.NewStore(cfg.Persistence.File)
	case "postgres":
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = postgres.NewTicketRepository(pool.DB())

		healthDone := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-healthDone:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(healthDone)
				pool.Close()
			},
		})
	}

	world := chunkserver.NewWorld(ctx, chunkserver.Options{
		Name:          cfg.Persistence.World,
		Distance:      cfg.Distance,
		Registry:      registry,
		Store:         store,
		AutosaveEvery: *autosave,
		Logger:        logger,
	})
	restored, err := world.Restore(ctx)
	if err != nil {
		logger.Fatal("restoring tickets", zap.Error(err))
	}

	loop := chunkserver.NewTickLoop(cfg.Distance.TickInterval, logger)
	world.Attach(loop)
	tickCtx, stopTicks := context.WithCancel(ctx)
	tickDone := make(chan struct{})
	lifecycle.Add("tick", &server.FuncService{
		StartFn: func() error {
			defer close(tickDone)
			return loop.Run(tickCtx)
		},
		StopFn: func() {
			stopTicks()
			<-tickDone
			if err := world.Close(context.Background()); err != nil {
				logger.Error("closing world", zap.Error(err))
			}
		},
	})

	if cfg.Debug.Enabled {
		grpcServer := grpc.NewServer()
		debugrpc.Register(grpcServer, debugrpc.NewServer(world, cfg.Distance.MaxViewDistance, logger))
		lifecycle.Add("debug-grpc", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", cfg.Debug.Addr())
				if err != nil {
					return fmt.Errorf("listening on %s: %w", cfg.Debug.Addr(), err)
				}
				logger.Info("debug gRPC listening", zap.String("addr", lis.Addr().String()))
				return grpcServer.Serve(lis)
			},
			StopFn: func() {
				grpcServer.GracefulStop()
			},
		})
	}

	logger.Info("chunk server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("world", world.Name()),
		zap.Int("restored_tickets", restored),
		zap.Int("view_distance", cfg.Distance.ViewDistance),
		zap.Int("simulation_distance", cfg.Distance.SimulationDistance),
		zap.Duration("tick_interval", cfg.Distance.TickInterval),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
