// Package common implements the `bridge-relay` command: the optional
// standalone durable relay deployment (spec.md §4.12) — the control-plane
// HTTP API for pairing, auth, devices, and notifications. Pairing sessions
// and rate-limit counters are kept in Redis and shared between replicas;
// the device registry and notification history are held in this process's
// memory and are not shared.
package common

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/editorbridge/bridge/lib/credentials"
	"github.com/editorbridge/bridge/lib/devices"
	"github.com/editorbridge/bridge/lib/durablerelay"
	"github.com/editorbridge/bridge/lib/notify"
	"github.com/editorbridge/bridge/lib/pairing/redisstore"
	"github.com/editorbridge/bridge/lib/ratelimit"
)

const (
	appName = "bridge-relay"
	appHelp = "Standalone durable relay: the Relay HTTP control-plane API backed by Redis, for always-on deployments in front of many editor hosts."
)

// Run parses args and blocks serving the durable relay until it receives
// SIGINT/SIGTERM.
func Run(args []string) error {
	var (
		addr            string
		redisAddr       string
		pushURL         string
		accessSecret    string
		refreshSecret   string
		accessTTL       time.Duration
		refreshTTL      time.Duration
		pairingTTL      time.Duration
		onlineWindow    time.Duration
		notifyHistorySz int
		debug           bool
	)

	app := kingpin.New(appName, appHelp)
	app.Flag("addr", "Address to listen on").Default(":8443").StringVar(&addr)
	app.Flag("redis-addr", "Redis address backing pairing sessions and rate limits").
		Envar("BRIDGE_RELAY_REDIS_ADDR").Required().StringVar(&redisAddr)
	app.Flag("push-url", "Webhook URL notifications are POSTed to; unset disables push delivery").
		StringVar(&pushURL)
	app.Flag("access-secret", "HMAC secret signing bearer access tokens").
		Envar("BRIDGE_RELAY_ACCESS_SECRET").Required().StringVar(&accessSecret)
	app.Flag("refresh-secret", "HMAC secret signing bearer refresh tokens").
		Envar("BRIDGE_RELAY_REFRESH_SECRET").Required().StringVar(&refreshSecret)
	app.Flag("access-ttl", "Bearer access token lifetime").Default("24h").DurationVar(&accessTTL)
	app.Flag("refresh-ttl", "Bearer refresh token lifetime").Default("168h").DurationVar(&refreshTTL)
	app.Flag("pairing-ttl", "Pairing session lifetime").Default("5m").DurationVar(&pairingTTL)
	app.Flag("online-window", "How recently a device must have been seen to count as online").
		Default("5m").DurationVar(&onlineWindow)
	app.Flag("notification-history", "Notifications retained per workspace").
		Default("200").IntVar(&notifyHistorySz)
	app.Flag("debug", "Enable verbose logging").BoolVar(&debug)

	if _, err := app.Parse(args); err != nil {
		return trace.Wrap(err)
	}

	initLogging(debug)

	clock := clockwork.NewRealClock()
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	creds, err := credentials.New(credentials.Config{
		Clock:         clock,
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	var sink notify.Sink
	if pushURL != "" {
		sink = notify.NewHTTPSink(pushURL)
	} else {
		sink = notify.SinkFunc(func(ctx context.Context, n *notify.Notification) error { return nil })
	}

	srv, err := durablerelay.New(durablerelay.Config{
		Credentials:   creds,
		Pairing:       redisstore.New(rdb, clock),
		Devices:       devices.New(clock),
		Notify:        sink,
		Notifications: notify.NewHistory(notifyHistorySz),
		RateLimit:     ratelimit.NewRedis(rdb, nil),
		Clock:         clock,
		PairingTTL:    pairingTTL,
		OnlineWindow:  onlineWindow,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infof("starting bridge-relay on %s (redis %s)", addr, redisAddr)
	return trace.Wrap(srv.ListenAndServe(ctx, addr))
}

func initLogging(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
}
