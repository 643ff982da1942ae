package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewAssignCommand returns the assign subcommand.
func NewAssignCommand() *cli.Command {
	return &cli.Command{
		Name:  "assign",
		Usage: "Run an assignment pass on the server now",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			n, err := client.Assign(ctx)
			if err != nil {
				return fmt.Errorf("assign: %w", err)
			}
			fmt.Printf("Assigned %d task(s).\n", n)
			return nil
		},
	}
}
