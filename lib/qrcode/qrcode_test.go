package qrcode

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingURLs(t *testing.T) {
	_, err := New("secret", "w1", "demo", "", "", time.Now().Add(time.Minute))
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now()
	p, err := New("secret", "w1", "demo", "ws://10.0.0.2:3002", "", now.Add(5*time.Minute))
	require.NoError(t, err)

	buf, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(buf, now)
	require.NoError(t, err)
	require.Equal(t, p.Secret, decoded.Secret)
	require.Equal(t, p.WorkspaceID, decoded.WorkspaceID)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	now := time.Now()
	p, err := New("secret", "w1", "demo", "ws://10.0.0.2:3002", "", now.Add(time.Minute))
	require.NoError(t, err)
	p.Version = 2

	buf, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(buf, now)
	require.Error(t, err)
}

func TestDecodeRejectsExpired(t *testing.T) {
	now := time.Now()
	p, err := New("secret", "w1", "demo", "ws://10.0.0.2:3002", "", now.Add(-time.Second))
	require.NoError(t, err)

	buf, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(buf, now)
	require.Error(t, err)
}

func TestDecodeRejectsNeitherURL(t *testing.T) {
	now := time.Now()
	buf := []byte(fmt.Sprintf(`{"t":"s","w":"w1","n":"demo","e":%d,"v":1}`, now.Add(time.Minute).UnixMilli()))
	_, err := Decode(buf, now)
	require.Error(t, err)
}
