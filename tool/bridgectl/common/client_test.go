package common

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientHealthReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "time": 123})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL, "")
	status, err := client.health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", status)
}

func TestClientListDevicesSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))
		require.Equal(t, "/api/v1/devices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]deviceSummary{
			{ID: "dev1", DisplayName: "phone", Platform: "ios"},
		})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL, "abc123")
	devices, err := client.listDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "dev1", devices[0].ID)
}

func TestClientRemoveDeviceSendsDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/devices/dev1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL, "")
	require.NoError(t, client.removeDevice(context.Background(), "dev1"))
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": "NOT_FOUND", "message": "device not found"})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL, "")
	err := client.removeDevice(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_FOUND")
}
