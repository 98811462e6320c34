package connections

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newConn(id, ws string, kind Kind, sent *[][]byte) *Connection {
	return &Connection{
		SocketID:    id,
		WorkspaceID: ws,
		Kind:        kind,
		Send: func(frame []byte) error {
			*sent = append(*sent, frame)
			return nil
		},
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg := New(clockwork.NewFakeClock())

	var sentA, sentB [][]byte
	a := newConn("a", "ws-1", KindMobile, &sentA)
	b := newConn("b", "ws-1", KindEditorHost, &sentB)
	reg.Add(a)
	reg.Add(b)

	reg.Broadcast(RoomName("ws-1"), "a", []byte("hello"))

	require.Empty(t, sentA)
	require.Equal(t, [][]byte{[]byte("hello")}, sentB)
}

func TestRemoveDropsMembershipAndFiresCallback(t *testing.T) {
	reg := New(clockwork.NewFakeClock())

	var leftID string
	reg.OnLeave(func(c *Connection) { leftID = c.SocketID })

	var sent [][]byte
	a := newConn("a", "ws-1", KindMobile, &sent)
	reg.Add(a)
	require.Len(t, reg.RoomMembers(RoomName("ws-1")), 1)

	reg.Remove("a")
	require.Equal(t, "a", leftID)
	require.Empty(t, reg.RoomMembers(RoomName("ws-1")))

	_, err := reg.Get("a")
	require.Error(t, err)
}

func TestHasEditorHost(t *testing.T) {
	reg := New(clockwork.NewFakeClock())
	var sent [][]byte

	require.False(t, reg.HasEditorHost(RoomName("ws-1")))
	reg.Add(newConn("host", "ws-1", KindEditorHost, &sent))
	require.True(t, reg.HasEditorHost(RoomName("ws-1")))
}
