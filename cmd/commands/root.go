package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/orchestra/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "orchestra",
		Usage: "Dispatch tasks to a fleet of agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.StringFlag{
				Name:    "gateway",
				Aliases: []string{"g"},
				Usage:   "Gateway base URL (default: from heartbeat or config)",
				Sources: cli.EnvVars("ORCHESTRA_GATEWAY"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewStatusCommand(),
			NewTasksCommand(),
			NewAgentsCommand(),
			NewAssignCommand(),
			NewWatchCommand(),
		},
	}
}

// setupLogging installs a text handler on a terminal and a JSON handler
// otherwise, at debug level with --debug.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return ctx, nil
}
