package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/kingpin"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 3002, cfg.LocalPort)
	require.Equal(t, 3004, cfg.RelayPort)
	require.True(t, cfg.MDNSEnabled)
	require.False(t, cfg.AutoStartTunnel)
	require.Equal(t, 300, cfg.PairingTTLSeconds)
	require.Equal(t, 86400, cfg.AccessTTLSeconds)
	require.Equal(t, 604800, cfg.RefreshTTLSeconds)
	require.EqualValues(t, 5*1024*1024, cfg.MaxFileSizeBytes)
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("local-port: 4000\nmdns-enabled: false\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.LocalPort)
	require.False(t, cfg.MDNSEnabled)
	require.Equal(t, 3004, cfg.RelayPort)
}

func TestParseFlagsOverridesFileValue(t *testing.T) {
	cfg := Defaults()
	err := ParseFlags("bridge", "test", []string{"--local-port=9001"}, &cfg)
	require.NoError(t, err)
	require.Equal(t, 9001, cfg.LocalPort)
	require.Equal(t, 3004, cfg.RelayPort)
}

func TestParseFlagsReadsEnvar(t *testing.T) {
	t.Setenv("RELAY_PORT", "7000")
	cfg := Defaults()
	err := ParseFlags("bridge", "test", nil, &cfg)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.RelayPort)
}

func TestParseFlagsCORSOriginsAccumulates(t *testing.T) {
	cfg := Defaults()
	err := ParseFlags("bridge", "test", []string{"--cors-origins=http://a", "--cors-origins=http://b"}, &cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
}

func TestBindFlagsComposesWithCallerOwnedFlags(t *testing.T) {
	cfg := Defaults()
	var workspaceID string

	app := kingpin.New("bridge", "test")
	app.Flag("workspace-id", "").Required().StringVar(&workspaceID)
	BindFlags(app, &cfg)

	_, err := app.Parse([]string{"--workspace-id=ws1", "--local-port=9100"})
	require.NoError(t, err)
	require.Equal(t, "ws1", workspaceID)
	require.Equal(t, 9100, cfg.LocalPort)
}
