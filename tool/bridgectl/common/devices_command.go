package common

import (
	"context"
	"fmt"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

// DevicesCommand implements `bridgectl devices` — administration of
// RegisteredDevice records against a durable relay deployment, in the
// spirit of the teacher's `tctl tokens`/`tctl users` commands.
type DevicesCommand struct {
	devicesList *kingpin.CmdClause
	devicesRm   *kingpin.CmdClause
	rmID        string
}

// Initialize plugs DevicesCommand into app.
func (c *DevicesCommand) Initialize(app *kingpin.Application) {
	devices := app.Command("devices", "List or remove registered devices")

	c.devicesList = devices.Command("ls", "List devices in a workspace")

	c.devicesRm = devices.Command("rm", "Remove a registered device").Alias("del")
	c.devicesRm.Arg("id", "Device id to remove").Required().StringVar(&c.rmID)
}

// TryRun executes the matched `devices` subcommand against client.
func (c *DevicesCommand) TryRun(ctx context.Context, cmd string, client *apiClient) (match bool, err error) {
	switch cmd {
	case c.devicesList.FullCommand():
		err = c.list(ctx, client)
	case c.devicesRm.FullCommand():
		err = c.remove(ctx, client)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

func (c *DevicesCommand) list(ctx context.Context, client *apiClient) error {
	devices, err := client.listDevices(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return nil
	}
	fmt.Printf("%-24s %-20s %-10s %-10s %s\n", "ID", "NAME", "PLATFORM", "VERSION", "LAST SEEN")
	for _, d := range devices {
		lastSeen := time.UnixMilli(d.LastSeenAt).Format(time.RFC3339)
		fmt.Printf("%-24s %-20s %-10s %-10s %s\n", d.ID, d.DisplayName, d.Platform, d.AppVersion, lastSeen)
	}
	return nil
}

func (c *DevicesCommand) remove(ctx context.Context, client *apiClient) error {
	if err := client.removeDevice(ctx, c.rmID); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Removed device %s.\n", c.rmID)
	return nil
}
