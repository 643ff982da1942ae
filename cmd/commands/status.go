package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/orchestra/internal/config"
	"github.com/dohr-michael/orchestra/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show Orchestra server status",
		Action: func(_ context.Context, _ *cli.Command) error {
			status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Server: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
			case heartbeat.StatusStale:
				fmt.Printf("Server: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Server: NOT RUNNING")
				return nil
			}

			if hb.Gateway != "" {
				fmt.Printf("Gateway: %s\n", hb.Gateway)
			}
			if q := hb.Queue; q != nil {
				fmt.Printf("Tasks:   %d total, %d pending, %d assigned, %d in progress, %d completed, %d failed, %d cancelled\n",
					q.Total, q.Pending, q.Assigned, q.InProgress, q.Completed, q.Failed, q.Cancelled)
				fmt.Printf("Agents:  %d known, %d idle\n", q.Agents, q.IdleAgents)
			}
			if l := hb.Loop; l != nil {
				fmt.Printf("Loop:    %s (%d cycles, %d assigned, %d failures)\n",
					l.State, l.Cycles, l.Assigned, l.Failures)
			}
			return nil
		},
	}
}
