package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/orchestra/internal/agents"
	"github.com/dohr-michael/orchestra/internal/config"
)

// NewAgentsCommand returns the agents subcommand.
func NewAgentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "agents",
		Usage: "Inspect agents and act on their behalf",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List agents from the agent files, or from the server with --live",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "live",
						Usage: "Show the effective status reported by the server",
					},
				},
				Action: runAgentsList,
			},
			{
				Name:      "next",
				Usage:     "Fetch the next task for an agent",
				ArgsUsage: "<agent_id>",
				Action:    runAgentsNext,
			},
			{
				Name:      "heartbeat",
				Usage:     "Report an agent as alive",
				ArgsUsage: "<agent_id>",
				Action:    runAgentsHeartbeat,
			},
		},
		DefaultCommand: "list",
	}
}

func runAgentsList(ctx context.Context, cmd *cli.Command) error {
	var list []agents.Agent
	if cmd.Bool("live") {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		if list, err = client.Agents(ctx); err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
	} else {
		cfg, err := config.LoadOrDefault(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir, err := agents.NewFileDirectory(cfg.Agents.Files)
		if err != nil {
			return fmt.Errorf("load agents: %w", err)
		}
		list = dir.GetAllAgents()
	}

	if len(list) == 0 {
		fmt.Println("No agents found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tWORKSPACE\tLAST SEEN")
	for _, a := range list {
		seen := "-"
		if !a.LastSeenAt.IsZero() {
			seen = a.LastSeenAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Status, orDash(a.WorkspaceKey), seen)
	}
	return w.Flush()
}

func runAgentsNext(ctx context.Context, cmd *cli.Command) error {
	agentID := cmd.Args().First()
	if agentID == "" {
		return fmt.Errorf("usage: orchestra agents next <agent_id>")
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	t, ok, err := client.Next(ctx, agentID)
	if err != nil {
		return fmt.Errorf("next task: %w", err)
	}
	if !ok {
		fmt.Println("No task available.")
		return nil
	}

	fmt.Printf("Task %s (%s, priority %s)\n", t.ID, orDash(t.WorkspaceKey), t.Priority)
	fmt.Println(t.Command)
	return nil
}

func runAgentsHeartbeat(ctx context.Context, cmd *cli.Command) error {
	agentID := cmd.Args().First()
	if agentID == "" {
		return fmt.Errorf("usage: orchestra agents heartbeat <agent_id>")
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	if err := client.Heartbeat(ctx, agentID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}
