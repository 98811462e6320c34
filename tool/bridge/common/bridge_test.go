package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractConfigPathFromSeparateFlag(t *testing.T) {
	path := extractConfigPath([]string{"--workspace-id=ws1", "--config", "/etc/bridge.yaml"})
	require.Equal(t, "/etc/bridge.yaml", path)
}

func TestExtractConfigPathFromEqualsFlag(t *testing.T) {
	path := extractConfigPath([]string{"--config=/etc/bridge.yaml", "--workspace-id=ws1"})
	require.Equal(t, "/etc/bridge.yaml", path)
}

func TestExtractConfigPathFromEnvar(t *testing.T) {
	t.Setenv(configFileEnvar, "/opt/bridge.yaml")
	path := extractConfigPath([]string{"--workspace-id=ws1"})
	require.Equal(t, "/opt/bridge.yaml", path)
}

func TestExtractConfigPathMissingReturnsEmpty(t *testing.T) {
	path := extractConfigPath([]string{"--workspace-id=ws1"})
	require.Empty(t, path)
}
