package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/orchestra/clients/api"
	"github.com/dohr-michael/orchestra/internal/config"
	"github.com/dohr-michael/orchestra/internal/heartbeat"
)

// gatewayURL resolves the gateway base URL: the --gateway flag first, then
// the address recorded by a live server, then the configured host and port.
func gatewayURL(cmd *cli.Command) (string, error) {
	if u := cmd.String("gateway"); u != "" {
		return strings.TrimRight(u, "/"), nil
	}

	if status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute); err == nil &&
		status == heartbeat.StatusAlive && hb.Gateway != "" {
		return hb.Gateway, nil
	}

	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), nil
}

func newAPIClient(cmd *cli.Command) (*api.Client, error) {
	u, err := gatewayURL(cmd)
	if err != nil {
		return nil, err
	}
	return api.New(u), nil
}

// wsURL turns a gateway base URL into its event stream endpoint.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/ws"
}
