package common

import (
	"context"
	"fmt"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/editorbridge/bridge/lib/bridgeclient"
	"github.com/editorbridge/bridge/lib/protocol"
)

// ConnectCommand implements `bridgectl connect` — a reference Go embedding
// of the multi-transport client (spec.md §4.7), useful for smoke-testing a
// bridge deployment and as a non-mobile example of lib/bridgeclient.
type ConnectCommand struct {
	connect  *kingpin.CmdClause
	localURL string
	relayURL string
}

// Initialize plugs ConnectCommand into app.
func (c *ConnectCommand) Initialize(app *kingpin.Application) {
	c.connect = app.Command("connect", "Connect to a bridge instance and fetch workspace info")
	c.connect.Flag("local-url", "ws://host:port/ws?... URL for the direct LAN transport").
		StringVar(&c.localURL)
	c.connect.Flag("relay-url", "ws://host:port/relay/device?... URL for the embedded-relay transport").
		StringVar(&c.relayURL)
}

// TryRun executes `connect` if cmd matches.
func (c *ConnectCommand) TryRun(ctx context.Context, cmd string) (match bool, err error) {
	if cmd != c.connect.FullCommand() {
		return false, nil
	}

	client, err := bridgeclient.New(bridgeclient.Config{
		LocalURL:   c.localURL,
		RelayURL:   c.relayURL,
		Preference: bridgeclient.PreferenceAuto,
	})
	if err != nil {
		return true, trace.Wrap(err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return true, trace.Wrap(err)
	}

	data, err := client.Send(ctx, protocol.CategoryWorkspace, "getInfo", nil)
	if err != nil {
		return true, trace.Wrap(err)
	}
	fmt.Println(string(data))
	return true, nil
}
