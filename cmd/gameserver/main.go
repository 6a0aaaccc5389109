// Package main provides the raid server binary: the combat and raid engine
// behind a gRPC service, with post-commit notifications, maintenance sweeps
// and a Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/raidbot/internal/config"
	"github.com/cory-johannsen/raidbot/internal/content"
	"github.com/cory-johannsen/raidbot/internal/game/combat"
	"github.com/cory-johannsen/raidbot/internal/game/inventory"
	"github.com/cory-johannsen/raidbot/internal/game/npc"
	"github.com/cory-johannsen/raidbot/internal/game/raid"
	"github.com/cory-johannsen/raidbot/internal/game/schedule"
	"github.com/cory-johannsen/raidbot/internal/gameserver"
	"github.com/cory-johannsen/raidbot/internal/maintenance"
	"github.com/cory-johannsen/raidbot/internal/notify"
	"github.com/cory-johannsen/raidbot/internal/observability"
	"github.com/cory-johannsen/raidbot/internal/scripting"
	"github.com/cory-johannsen/raidbot/internal/server"
	"github.com/cory-johannsen/raidbot/internal/storage"
	"github.com/cory-johannsen/raidbot/internal/storage/memory"
	"github.com/cory-johannsen/raidbot/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
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

	logger.Info("starting raid server",
		zap.String("grpc_addr", cfg.GameServer.Addr()),
		zap.String("storage", cfg.Server.Storage),
		zap.String("notifier", cfg.Notifier.Sink),
	)

	catalog, err := content.Load(cfg.Content, logger)
	if err != nil {
		logger.Fatal("loading content", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	store, err := openStore(ctx, cfg, logger, lifecycle)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer store.Close()

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening notification sink", zap.Error(err))
	}
	dispatcher, err := notify.NewDispatcher(sink, cfg.Notifier.Workers, cfg.Notifier.Timeout, logger)
	if err != nil {
		logger.Fatal("starting notification dispatcher", zap.Error(err))
	}
	notifier := notify.NewNotifier(dispatcher)

	metrics := observability.NewMetrics()
	src := observability.NewDrawSource(cfg.Logging, logger)
	timers := schedule.New(logger)

	scripts := scripting.NewManager(src, logger, cfg.Scripting.InstructionLimit)
	if cfg.Content.ScriptsDir != "" {
		scopes, err := scripts.LoadTree(cfg.Content.ScriptsDir)
		if err != nil {
			logger.Fatal("loading scripts", zap.Error(err))
		}
		logger.Info("scripts loaded", zap.Strings("scopes", scopes))
	}

	items := inventory.NewMutator(catalog.Items, logger)
	npcs := npc.NewLifecycle(npc.Deps{
		Store:            store,
		Templates:        catalog.NPCs,
		Locations:        catalog.Locations,
		Items:            items,
		Scheduler:        timers,
		Notifier:         notifier,
		Source:           src,
		Logger:           logger,
		Metrics:          metrics,
		PresenceInterval: cfg.NPC.PresenceInterval,
	})
	raids := raid.NewManager(raid.Deps{
		Store:     store,
		Locations: catalog.Locations,
		Items:     items,
		Scheduler: timers,
		Notifier:  notifier,
		Logger:    logger,
		Metrics:   metrics,
	})
	orchestrator := combat.NewOrchestrator(combat.Deps{
		Store:     store,
		Locations: catalog.Locations,
		Items:     items,
		NPCs:      npcs,
		Notifier:  notifier,
		Source:    src,
		Logger:    logger,
		Raids:     raids,
		Bonuses:   scripts,
		Metrics:   metrics,
	})

	if _, err := npcs.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrapping npcs", zap.Error(err))
	}
	if _, err := raids.Restore(ctx); err != nil {
		logger.Fatal("restoring raid sessions", zap.Error(err))
	}

	sweeper, err := maintenance.New(store, cfg.Maintenance, logger, maintenance.WithMetrics(metrics))
	if err != nil {
		logger.Fatal("scheduling maintenance", zap.Error(err))
	}

	grpcServer, health := gameserver.NewGRPCServer(gameserver.NewServer(orchestrator, raids, npcs, logger), logger)

	// Stopped in reverse: grpc first so no command starts after the
	// timers and the dispatcher are gone.
	lifecycle.Add("notifier", &server.FuncService{
		StartFn: func(ctx context.Context) error { <-ctx.Done(); return nil },
		StopFn:  func(context.Context) error { return dispatcher.Close() },
	})
	lifecycle.Add("scheduler", &server.FuncService{
		StartFn: func(ctx context.Context) error { <-ctx.Done(); return nil },
		StopFn: func(context.Context) error {
			timers.Stop()
			scripts.Close()
			return nil
		},
	})
	lifecycle.Add("maintenance", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			sweeper.Start()
			<-ctx.Done()
			return nil
		},
		StopFn: func(ctx context.Context) error {
			sweeper.Stop(ctx)
			return nil
		},
	})
	if cfg.Metrics.Addr != "" {
		metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		lifecycle.Add("metrics", &server.FuncService{
			StartFn: func(context.Context) error {
				logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
				if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			StopFn: metricsServer.Shutdown,
		})
	}
	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.GameServer.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.GameServer.Addr(), err)
			}
			logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
			return grpcServer.Serve(lis)
		},
		StopFn: func(context.Context) error {
			health.Shutdown()
			grpcServer.GracefulStop()
			return nil
		},
	})

	logger.Info("raid server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("grpc_addr", cfg.GameServer.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openStore connects the configured store. A postgres store also gets a
// periodic health check service.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger, lifecycle *server.Lifecycle) (storage.Store, error) {
	if cfg.Server.Storage == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("lock_timeout", pool.LockTimeout()),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
	})
	return postgres.NewStore(pool), nil
}

// openSink builds the transport the notification dispatcher publishes to.
func openSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Sink, error) {
	switch cfg.Notifier.Sink {
	case "redis":
		s := notify.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "kafka":
		return notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
	default:
		return notify.NewLogSink(logger), nil
	}
}
