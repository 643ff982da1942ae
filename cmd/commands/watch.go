package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/orchestra/clients/ws"
	"github.com/dohr-michael/orchestra/internal/events"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream orchestrator events",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "events",
				Aliases: []string{"e"},
				Usage:   "Only show these event types (e.g. task.assigned)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw events as JSON lines",
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	base, err := gatewayURL(cmd)
	if err != nil {
		return err
	}

	client, err := wsclient.Dial(ctx, wsURL(base))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	if filter := cmd.StringSlice("events"); len(filter) > 0 {
		if _, err := client.Subscribe(filter...); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	raw := cmd.Bool("json")
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Event == "" {
			continue
		}

		if raw {
			fmt.Println(string(frame.Payload))
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			continue
		}
		fmt.Fprintln(os.Stdout, formatEvent(evt))
	}
}

// formatEvent renders an event as a single line with sorted payload keys.
func formatEvent(evt events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-22s", evt.Timestamp.Local().Format(time.TimeOnly), evt.Type)
	if evt.TaskID != "" {
		fmt.Fprintf(&b, " %s", evt.TaskID)
	}

	keys := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		if k == "task_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, evt.Payload[k])
	}
	return b.String()
}
