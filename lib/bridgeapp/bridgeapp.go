// Package bridgeapp wires every service that makes up the editor-host
// process (spec.md §9 design notes: "one top-level *bridge.App struct
// carrying all services, replacing package-level singletons"). App is
// constructed explicitly from Config the way the teacher builds
// lib/auth.Server or lib/web.Config, not via init()-time globals.
package bridgeapp

import (
	"context"
	"fmt"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/editorbridge/bridge/lib/aibridge"
	"github.com/editorbridge/bridge/lib/components"
	"github.com/editorbridge/bridge/lib/config"
	"github.com/editorbridge/bridge/lib/connections"
	"github.com/editorbridge/bridge/lib/credentials"
	"github.com/editorbridge/bridge/lib/devices"
	"github.com/editorbridge/bridge/lib/diagnostics"
	"github.com/editorbridge/bridge/lib/dispatch"
	"github.com/editorbridge/bridge/lib/editorstate"
	aihandlers "github.com/editorbridge/bridge/lib/handlers/ai"
	diaghandlers "github.com/editorbridge/bridge/lib/handlers/diagnostics"
	edithandlers "github.com/editorbridge/bridge/lib/handlers/editor"
	filehandlers "github.com/editorbridge/bridge/lib/handlers/file"
	githandlers "github.com/editorbridge/bridge/lib/handlers/git"
	termhandlers "github.com/editorbridge/bridge/lib/handlers/terminal"
	wshandlers "github.com/editorbridge/bridge/lib/handlers/workspace"
	"github.com/editorbridge/bridge/lib/pairing"
	"github.com/editorbridge/bridge/lib/pairing/memstore"
	"github.com/editorbridge/bridge/lib/protocol"
	"github.com/editorbridge/bridge/lib/ratelimit"
	"github.com/editorbridge/bridge/lib/relay"
	"github.com/editorbridge/bridge/lib/tunnel"
	"github.com/editorbridge/bridge/lib/wsserver"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: components.App})

// Workspace describes the single workspace this process serves (spec.md
// §1 Non-goal: no multiplexing multiple workspaces on one process).
type Workspace struct {
	ID       string
	Name     string
	RootPath string
}

// Config configures an App.
type Config struct {
	Workspace Workspace
	// Settings is the layered local-port/relay-port/TTL/secret configuration
	// (lib/config), already resolved from file/env/flags by the caller.
	Settings config.Config
	// TunnelProvider backs the tunnel supervisor. Nil disables tunnelling
	// regardless of Settings.AutoStartTunnel, since no concrete provider is
	// wired into this module (spec.md §1: tunnelling is an external service).
	TunnelProvider tunnel.Provider
	// DevicesSnapshotPath, if set, persists the device registry across
	// restarts (see lib/devices.SaveSnapshot/LoadSnapshot).
	DevicesSnapshotPath string
	// AIBackends are registered on the AI bridge in addition to the default
	// echo backend. Optional.
	AIBackends []aibridge.Backend
	Clock      clockwork.Clock
}

func (c *Config) checkAndSetDefaults() error {
	if c.Workspace.ID == "" {
		return trace.BadParameter("bridgeapp: Workspace.ID is required")
	}
	if c.Workspace.RootPath == "" {
		return trace.BadParameter("bridgeapp: Workspace.RootPath is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// App owns every service the editor-host process runs.
type App struct {
	cfg Config

	Connections *connections.Registry
	Credentials *credentials.Service
	Pairing     pairing.Store
	Devices     *devices.Registry
	RateLimit   *ratelimit.Limiter
	Dispatch    *dispatch.Table
	EditorState *editorstate.State
	Diagnostics *diagnostics.Aggregator
	AI          *aibridge.Engine

	WSServer *wsserver.Server
	Relay    *relay.Server
	Tunnel   *tunnel.Supervisor
}

// New constructs an App and every service it wires, registering all
// command handlers onto a fresh dispatch table.
func New(cfg Config) (*App, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	a := &App{
		cfg:         cfg,
		Connections: connections.New(cfg.Clock),
		Pairing:     memstore.New(cfg.Clock),
		Devices:     devices.New(cfg.Clock),
		RateLimit:   ratelimit.New(nil, cfg.Clock),
		Dispatch:    dispatch.NewTable(),
		EditorState: editorstate.New(),
	}

	if cfg.DevicesSnapshotPath != "" {
		if err := a.Devices.LoadSnapshot(cfg.DevicesSnapshotPath); err != nil {
			return nil, trace.Wrap(err, "restoring device snapshot")
		}
	}

	creds, err := credentials.New(credentials.Config{
		Clock:         cfg.Clock,
		AccessSecret:  []byte(cfg.Settings.JWTSecret),
		RefreshSecret: []byte(cfg.Settings.JWTRefreshSecret),
		AccessTTL:     time.Duration(cfg.Settings.AccessTTLSeconds) * time.Second,
		RefreshTTL:    time.Duration(cfg.Settings.RefreshTTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	a.Credentials = creds

	a.Diagnostics, err = diagnostics.New(diagnostics.Config{
		Clock: cfg.Clock,
		Sink:  diagnostics.EventSinkFunc(a.broadcastDiagnostics),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	a.AI = aibridge.NewEngine("echo", nil, append([]aibridge.Backend{aibridge.NewEchoBackend("echo")}, cfg.AIBackends...)...)

	a.registerHandlers()

	a.WSServer, err = wsserver.New(wsserver.Config{
		Credentials: a.Credentials,
		Pairing:     a.Pairing,
		Devices:     a.Devices,
		Connections: a.Connections,
		Dispatch:    a.Dispatch,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	a.Relay, err = relay.New(relay.Config{
		Connections: a.Connections,
		Credentials: a.Credentials,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if cfg.TunnelProvider != nil {
		a.Tunnel, err = tunnel.New(tunnel.Config{Provider: cfg.TunnelProvider, Clock: cfg.Clock})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	return a, nil
}

// registerHandlers installs every command-category handler package onto
// Dispatch, scoped to this App's workspace and shared services.
func (a *App) registerHandlers() {
	ws := a.cfg.Workspace

	filehandlers.New(ws.RootPath, a.cfg.Settings.MaxFileSizeBytes, a.EditorState).Register(a.Dispatch)
	edithandlers.New(a.EditorState).Register(a.Dispatch)
	wshandlers.New(ws.ID, ws.Name, ws.RootPath).Register(a.Dispatch)
	githandlers.New(ws.RootPath).Register(a.Dispatch)
	termhandlers.New(ws.RootPath, a.Connections).Register(a.Dispatch)
	diaghandlers.New(a.Diagnostics).Register(a.Dispatch)
	aihandlers.New(a.AI).Register(a.Dispatch)
}

// broadcastDiagnostics fans a throttled diagnostics diff out to every
// connection in this workspace's room — the aggregator is shared across
// the whole process, not owned by any one connection, unlike the terminal
// and AI bridges' per-requester connSink push.
func (a *App) broadcastDiagnostics(diff diagnostics.Diff) {
	env, err := protocol.NewEvent("changed", diff, a.cfg.Clock.Now())
	if err != nil {
		log.WithError(err).Warn("failed to build diagnostics event")
		return
	}
	buf, err := protocol.Encode(env)
	if err != nil {
		log.WithError(err).Warn("failed to encode diagnostics event")
		return
	}
	a.Connections.Broadcast(connections.RoomName(a.cfg.Workspace.ID), "", buf)
}

// Run blocks serving the local WebSocket server, the embedded relay, and
// (if configured) the tunnel, until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.WSServer.ListenAndServe(ctx, fmt.Sprintf(":%d", a.cfg.Settings.LocalPort))
	})

	g.Go(func() error {
		_, err := a.Relay.ListenAndServeWithRetry(ctx, "", a.cfg.Settings.RelayPort)
		return err
	})

	if a.Tunnel != nil && a.cfg.Settings.AutoStartTunnel {
		g.Go(func() error {
			return a.Tunnel.Connect(ctx, a.cfg.Settings.RelayPort)
		})
	}

	if a.cfg.DevicesSnapshotPath != "" {
		g.Go(func() error {
			<-ctx.Done()
			if err := a.Devices.SaveSnapshot(a.cfg.DevicesSnapshotPath); err != nil {
				log.WithError(err).Warn("failed to persist device snapshot on shutdown")
			}
			return nil
		})
	}

	return g.Wait()
}
