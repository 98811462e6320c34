// Package config layers the bridge's configuration (spec.md §6) the way the
// teacher's tool/tctl layers its own: a YAML file provides the base, CLI
// flags are bound with matching uppercase/underscore environment variables
// via `github.com/gravitational/kingpin`'s own `Envar`/`Default` precedence
// (explicit flag beats env var beats default), so flags > env > file without
// any bespoke merge logic.
package config

import (
	"os"
	"strings"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"
)

// Config holds every key spec.md §6 names for the server-side process.
type Config struct {
	LocalPort         int      `yaml:"local-port"`
	RelayPort         int      `yaml:"relay-port"`
	MDNSEnabled       bool     `yaml:"mdns-enabled"`
	AutoStartTunnel   bool     `yaml:"auto-start-tunnel"`
	PairingTTLSeconds int      `yaml:"pairing-ttl-seconds"`
	AccessTTLSeconds  int      `yaml:"access-ttl-seconds"`
	RefreshTTLSeconds int      `yaml:"refresh-ttl-seconds"`
	MaxFileSizeBytes  int64    `yaml:"max-file-size-bytes"`
	CORSOrigins       []string `yaml:"cors-origins"`
	JWTSecret         string   `yaml:"jwt-secret"`
	JWTRefreshSecret  string   `yaml:"jwt-refresh-secret"`
}

// Defaults returns the spec.md §6 default values.
func Defaults() Config {
	return Config{
		LocalPort:         3002,
		RelayPort:         3004,
		MDNSEnabled:       true,
		AutoStartTunnel:   false,
		PairingTTLSeconds: 300,
		AccessTTLSeconds:  86400,
		RefreshTTLSeconds: 604800,
		MaxFileSizeBytes:  5 * 1024 * 1024,
	}
}

// LoadFile reads a YAML config file at path onto the defaults. A missing
// file is not an error; callers that want the file to be mandatory should
// stat it themselves first.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, trace.Wrap(err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, trace.Wrap(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// ParseFlags binds every Config field to a kingpin flag pre-seeded from cfg
// (the YAML-loaded base) and an uppercase/underscore environment variable,
// then parses args into cfg in place. kingpin resolves flag > env > default
// itself, so this is the whole "file then env then flags" layering.
//
// Callers that need additional flags alongside these (workspace identity,
// a --config path, --debug) should build their own *kingpin.Application and
// call BindFlags instead, so every flag is registered on one app before a
// single app.Parse call.
func ParseFlags(appName, appHelp string, args []string, cfg *Config) error {
	app := kingpin.New(appName, appHelp)
	BindFlags(app, cfg)

	if _, err := app.Parse(args); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// BindFlags registers every Config field as a flag on app, pre-seeded from
// cfg and bound to a matching uppercase/underscore environment variable. It
// does not parse — callers own app.Parse so they can add their own flags
// first.
func BindFlags(app *kingpin.Application, cfg *Config) {
	app.Flag("local-port", "Local WebSocket server port").
		Envar(envName("local-port")).Default(itoa(cfg.LocalPort)).IntVar(&cfg.LocalPort)
	app.Flag("relay-port", "Embedded room relay port").
		Envar(envName("relay-port")).Default(itoa(cfg.RelayPort)).IntVar(&cfg.RelayPort)
	app.Flag("mdns-enabled", "Advertise the workspace over mDNS/Bonjour").
		Envar(envName("mdns-enabled")).Default(btoa(cfg.MDNSEnabled)).BoolVar(&cfg.MDNSEnabled)
	app.Flag("auto-start-tunnel", "Start the public tunnel automatically at boot").
		Envar(envName("auto-start-tunnel")).Default(btoa(cfg.AutoStartTunnel)).BoolVar(&cfg.AutoStartTunnel)
	app.Flag("pairing-ttl-seconds", "Pairing session lifetime in seconds").
		Envar(envName("pairing-ttl-seconds")).Default(itoa(cfg.PairingTTLSeconds)).IntVar(&cfg.PairingTTLSeconds)
	app.Flag("access-ttl-seconds", "Bearer access token lifetime in seconds").
		Envar(envName("access-ttl-seconds")).Default(itoa(cfg.AccessTTLSeconds)).IntVar(&cfg.AccessTTLSeconds)
	app.Flag("refresh-ttl-seconds", "Bearer refresh token lifetime in seconds").
		Envar(envName("refresh-ttl-seconds")).Default(itoa(cfg.RefreshTTLSeconds)).IntVar(&cfg.RefreshTTLSeconds)
	app.Flag("max-file-size-bytes", "Maximum file size `file/read` will return").
		Envar(envName("max-file-size-bytes")).Default(itoa64(cfg.MaxFileSizeBytes)).Int64Var(&cfg.MaxFileSizeBytes)
	app.Flag("cors-origins", "Allowed CORS origins for the Relay HTTP API").
		Envar(envName("cors-origins")).StringsVar(&cfg.CORSOrigins)
	app.Flag("jwt-secret", "HMAC secret signing bearer access tokens").
		Envar(envName("jwt-secret")).Default(cfg.JWTSecret).StringVar(&cfg.JWTSecret)
	app.Flag("jwt-refresh-secret", "HMAC secret signing bearer refresh tokens").
		Envar(envName("jwt-refresh-secret")).Default(cfg.JWTRefreshSecret).StringVar(&cfg.JWTRefreshSecret)
}

// envName uppercases and underscores a flag name, matching spec.md §6
// ("Environment variables mirror these names uppercased with underscore").
func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func itoa(n int) string {
	return itoa64(int64(n))
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func btoa(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
