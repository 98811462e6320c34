package common

import (
	"context"
	"fmt"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

// RelayCommand implements `bridgectl relay` — operational checks against a
// durable relay deployment.
type RelayCommand struct {
	relayHealth *kingpin.CmdClause
}

// Initialize plugs RelayCommand into app.
func (c *RelayCommand) Initialize(app *kingpin.Application) {
	relay := app.Command("relay", "Durable relay operations")
	c.relayHealth = relay.Command("health", "Check the durable relay's /health endpoint")
}

// TryRun executes the matched `relay` subcommand against client.
func (c *RelayCommand) TryRun(ctx context.Context, cmd string, client *apiClient) (match bool, err error) {
	if cmd != c.relayHealth.FullCommand() {
		return false, nil
	}
	status, err := client.health(ctx)
	if err != nil {
		return true, trace.Wrap(err)
	}
	fmt.Println("status:", status)
	return true, nil
}
