package common

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/kingpin"
	"github.com/stretchr/testify/require"
)

func TestDevicesCommandListDispatchesToList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]deviceSummary{})
	}))
	defer srv.Close()

	app := kingpin.New("bridgectl", "test")
	cmd := &DevicesCommand{}
	cmd.Initialize(app)

	selected, err := app.Parse([]string{"devices", "ls"})
	require.NoError(t, err)

	client := newAPIClient(srv.URL, "")
	match, err := cmd.TryRun(context.Background(), selected, client)
	require.True(t, match)
	require.NoError(t, err)
}

func TestDevicesCommandRmRequiresID(t *testing.T) {
	app := kingpin.New("bridgectl", "test")
	cmd := &DevicesCommand{}
	cmd.Initialize(app)

	_, err := app.Parse([]string{"devices", "rm"})
	require.Error(t, err)
}

func TestDevicesCommandIgnoresUnrelatedCommand(t *testing.T) {
	app := kingpin.New("bridgectl", "test")
	cmd := &DevicesCommand{}
	cmd.Initialize(app)
	relayCmd := &RelayCommand{}
	relayCmd.Initialize(app)

	selected, err := app.Parse([]string{"relay", "health"})
	require.NoError(t, err)

	match, err := cmd.TryRun(context.Background(), selected, nil)
	require.False(t, match)
	require.NoError(t, err)
}

func TestRelayCommandHealthReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	}))
	defer srv.Close()

	app := kingpin.New("bridgectl", "test")
	cmd := &RelayCommand{}
	cmd.Initialize(app)

	selected, err := app.Parse([]string{"relay", "health"})
	require.NoError(t, err)

	client := newAPIClient(srv.URL, "")
	match, err := cmd.TryRun(context.Background(), selected, client)
	require.True(t, match)
	require.NoError(t, err)
}
