// Package common implements `bridgectl`, an operator CLI for a bridge
// deployment (device listing and removal, relay health) in the
// spirit of the teacher's `tool/tctl`, plus a reference embedding of the
// multi-transport client (lib/bridgeclient) via the `connect` subcommand.
package common

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

const (
	appName = "bridgectl"
	appHelp = "Operator CLI for a bridge deployment: device administration, relay health, and a reference multi-transport client."
)

// Run parses args and executes the matched subcommand.
func Run(args []string) error {
	var relayURL, token string

	app := kingpin.New(appName, appHelp)
	app.Flag("relay-url", "Base URL of a durable relay deployment, e.g. https://relay.example.com").
		Envar("BRIDGECTL_RELAY_URL").Default("http://localhost:8443").StringVar(&relayURL)
	app.Flag("token", "Bearer access token for authenticated endpoints").
		Envar("BRIDGECTL_TOKEN").StringVar(&token)

	devicesCmd := &DevicesCommand{}
	devicesCmd.Initialize(app)

	relayCmd := &RelayCommand{}
	relayCmd.Initialize(app)

	connectCmd := &ConnectCommand{}
	connectCmd.Initialize(app)

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if match, err := connectCmd.TryRun(ctx, selected); match {
		return trace.Wrap(err)
	}

	client := newAPIClient(relayURL, token)

	if match, err := devicesCmd.TryRun(ctx, selected, client); match {
		return trace.Wrap(err)
	}
	if match, err := relayCmd.TryRun(ctx, selected, client); match {
		return trace.Wrap(err)
	}

	return trace.Errorf("bridgectl: unrecognized command %q", selected)
}
