package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/config"
	"github.com/dohr-michael/orchestra/internal/events"
	"github.com/dohr-michael/orchestra/internal/gateway"
	"github.com/dohr-michael/orchestra/internal/heartbeat"
	"github.com/dohr-michael/orchestra/internal/orchestrator"
	"github.com/dohr-michael/orchestra/internal/snapshot"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the orchestrator, its assignment loop and the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Snapshot driver: file, sqlite or none",
			},
			&cli.BoolFlag{
				Name:  "no-restore",
				Usage: "Start with an empty queue instead of the last snapshot",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}
	if cmd.IsSet("storage") {
		cfg.Storage.Driver = cmd.String("storage")
		cfg.Storage.Path = ""
		if err := config.Normalize(cfg); err != nil {
			return fmt.Errorf("storage flag: %w", err)
		}
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Agent directory
	dir, err := agents.NewFileDirectory(cfg.Agents.Files)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	slog.Info("agents loaded", "count", len(dir.GetAllAgents()), "patterns", cfg.Agents.Files)

	// Snapshot store
	store, err := snapshot.Open(snapshot.Options{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()
	if sq, ok := store.(*snapshot.SQLiteStore); ok {
		if err := sq.StartPruner(cfg.Storage.PruneSchedule, cfg.Storage.KeepSnapshots); err != nil {
			return err
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Directory:      dir,
		Sink:           store,
		Bus:            bus,
		PersistRetries: cfg.Orchestrator.PersistRetries,
		PersistBackoff: cfg.Orchestrator.PersistBackoff.Duration(),
	})

	if !cmd.Bool("no-restore") {
		restore(ctx, orch, store)
	}

	loop := orchestrator.NewLoop(orch, orchestrator.LoopConfig{
		Interval: cfg.Orchestrator.Interval.Duration(),
		Cooldown: cfg.Orchestrator.Cooldown.Duration(),
		Bus:      bus,
	})

	server := gateway.NewServer(orch, bus, cfg.Gateway.Host, cfg.Gateway.Port)

	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(prev, next *config.Config) {
		if !slices.Equal(prev.Agents.Files, next.Agents.Files) ||
			prev.Gateway != next.Gateway ||
			prev.Storage != next.Storage {
			slog.Warn("config change requires a restart to take effect")
		}
		if err := dir.Reload(); err != nil {
			slog.Error("reload agents", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Agents.WatchEnabled() {
		if err := dir.Watch(gctx); err != nil {
			slog.Warn("agents watch disabled", "error", err)
		}
		g.Go(func() error {
			if err := reloader.Watch(gctx); err != nil {
				slog.Warn("config watch disabled", "error", err)
			}
			return nil
		})
	}

	addrCtx, cancelAddr := context.WithTimeout(gctx, 5*time.Second)
	addr, err := server.Addr(addrCtx)
	cancelAddr()
	if err != nil {
		// The listener failed; g.Wait reports why.
		return g.Wait()
	}

	loop.Start(gctx)
	defer loop.Stop()

	hb := heartbeat.NewWriter(config.HeartbeatPath(),
		heartbeat.WithGateway("http://"+addr.String()),
		heartbeat.WithOrchestrator(orch),
		heartbeat.WithLoop(loop),
	)
	hb.Start()
	defer hb.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func restore(ctx context.Context, orch *orchestrator.Orchestrator, store snapshot.Store) {
	snap, ok, err := store.Load(ctx)
	switch {
	case err != nil:
		slog.Warn("snapshot not restored", "error", err)
	case !ok:
		slog.Info("no snapshot to restore")
	default:
		n := orch.Restore(snap)
		slog.Info("snapshot restored", "tasks", n, "generated_at", snap.GeneratedAt)
	}
}
