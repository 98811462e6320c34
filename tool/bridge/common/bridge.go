// Package common implements the `bridge` command, the editor-host process:
// local WebSocket server, embedded room relay, optional tunnel, dispatch
// table and every handler, diagnostics aggregator, and AI bridge, all wired
// from one lib/bridgeapp.App.
package common

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/bridgeapp"
	"github.com/editorbridge/bridge/lib/config"
)

const (
	appName = "bridge"
	appHelp = "Editor-host process: serves the local WebSocket API and the embedded room relay for a single workspace."

	configFileEnvar = "BRIDGE_CONFIG"
	defaultLogLevel = log.InfoLevel
)

// Run parses args and blocks serving the editor-host process until it
// receives SIGINT/SIGTERM or a constituent server fails.
func Run(args []string) error {
	configPath := extractConfigPath(args)
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	var (
		workspaceID string
		workspaceNm string
		rootPath    string
		snapshot    string
		debug       bool
		flagConfig  string
	)

	app := kingpin.New(appName, appHelp)
	app.Flag("config", fmt.Sprintf("Path to a YAML config file. Can also be set via %s.", configFileEnvar)).
		Envar(configFileEnvar).StringVar(&flagConfig)
	app.Flag("workspace-id", "Stable identifier for this workspace").Required().StringVar(&workspaceID)
	app.Flag("workspace-name", "Display name for this workspace").StringVar(&workspaceNm)
	app.Flag("root", "Workspace root directory served to editor commands").Required().
		StringVar(&rootPath)
	app.Flag("devices-snapshot", "Path used to persist the device registry across restarts").
		StringVar(&snapshot)
	app.Flag("debug", "Enable verbose logging").BoolVar(&debug)
	config.BindFlags(app, &cfg)

	if _, err := app.Parse(args); err != nil {
		return trace.Wrap(err)
	}

	initLogging(debug)

	bridge, err := bridgeapp.New(bridgeapp.Config{
		Workspace: bridgeapp.Workspace{
			ID:       workspaceID,
			Name:     workspaceNm,
			RootPath: rootPath,
		},
		Settings:            cfg,
		DevicesSnapshotPath: snapshot,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("workspace", workspaceID).Infof("starting bridge on :%d (relay :%d)", cfg.LocalPort, cfg.RelayPort)
	return trace.Wrap(bridge.Run(ctx))
}

// extractConfigPath finds a --config value or BRIDGE_CONFIG environment
// variable before the full flag set exists, since the config file itself
// seeds the defaults every other flag is bound against.
func extractConfigPath(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return os.Getenv(configFileEnvar)
}

func initLogging(debug bool) {
	level := defaultLogLevel
	if debug {
		level = log.DebugLevel
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
}
