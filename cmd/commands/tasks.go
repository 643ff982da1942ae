package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/orchestra/internal/gateway"
	"github.com/dohr-michael/orchestra/internal/orchestrator"
	"github.com/dohr-michael/orchestra/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage queued tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Only show tasks with this status",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "enqueue",
				Aliases:   []string{"add"},
				Usage:     "Enqueue a command",
				ArgsUsage: "<command...>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "workspace",
						Aliases: []string{"w"},
						Usage:   "Workspace key the task runs in",
					},
					&cli.StringFlag{
						Name:    "priority",
						Aliases: []string{"p"},
						Usage:   "low, normal, high, critical or a number",
						Value:   "normal",
					},
				},
				Action: runTasksEnqueue,
			},
			{
				Name:      "update",
				Usage:     "Change the status of a task",
				ArgsUsage: "<task_id> <status>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "result",
						Usage: "Result or error text to record",
					},
				},
				Action: runTasksUpdate,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Reason recorded as the task result",
					},
				},
				Action: runTasksCancel,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	list, err := client.ListTasks(ctx, cmd.String("status"))
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tWORKSPACE\tAGENT\tCOMMAND")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Priority,
			orDash(t.WorkspaceKey),
			orDash(t.AgentID),
			truncate(t.Command, 60),
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: orchestra tasks show <task_id>")
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	t, err := client.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Workspace:   %s\n", orDash(t.WorkspaceKey))
	fmt.Printf("Agent:       %s\n", orDash(t.AgentID))
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format(time.DateTime))
	if t.DispatchedAt != nil {
		fmt.Printf("Dispatched:  %s\n", t.DispatchedAt.Format(time.DateTime))
	}
	if t.StartedAt != nil {
		fmt.Printf("Started:     %s\n", t.StartedAt.Format(time.DateTime))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Format(time.DateTime))
	}

	fmt.Printf("\nCommand:\n%s\n", t.Command)
	if t.Result != "" {
		fmt.Printf("\nResult:\n%s\n", t.Result)
	}
	return nil
}

func runTasksEnqueue(ctx context.Context, cmd *cli.Command) error {
	command := strings.Join(cmd.Args().Slice(), " ")
	if command == "" {
		return fmt.Errorf("usage: orchestra tasks enqueue [--workspace KEY] [--priority P] <command...>")
	}
	if _, err := tasks.ParsePriority(cmd.String("priority")); err != nil {
		return err
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	resp, err := client.Enqueue(ctx, gateway.EnqueueBody{
		Command:      command,
		WorkspaceKey: cmd.String("workspace"),
		Priority:     cmd.String("priority"),
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	if resp.Agent != "" {
		fmt.Printf("Task %s %s to %s.\n", resp.ID, resp.Status, resp.Agent)
	} else {
		fmt.Printf("Task %s %s.\n", resp.ID, resp.Status)
	}
	return nil
}

func runTasksUpdate(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: orchestra tasks update <task_id> <status> [--result TEXT]")
	}
	taskID, status := cmd.Args().Get(0), cmd.Args().Get(1)
	if _, err := tasks.ParseStatus(status); err != nil {
		return err
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	out, err := client.UpdateStatus(ctx, taskID, status, cmd.String("result"))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return printOutcome(taskID, out)
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: orchestra tasks cancel <task_id>")
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	out, err := client.Cancel(ctx, taskID, cmd.String("reason"))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return printOutcome(taskID, out)
}

func printOutcome(taskID string, out orchestrator.Outcome) error {
	if !out.Accepted {
		if out.Detail != "" {
			return fmt.Errorf("task %s: %s (%s)", taskID, out.Reason, out.Detail)
		}
		return fmt.Errorf("task %s: %s", taskID, out.Reason)
	}
	fmt.Printf("Task %s is now %s.\n", taskID, out.Task.Status)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
