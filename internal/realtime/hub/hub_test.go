package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// dialClient spins up a one-shot echo-less WebSocket server and returns a
// connected *Client alongside the client-side conn used to read broadcasts.
func dialClient(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	var serverConn *websocket.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = conn
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	<-ready
	return NewClient(serverConn), clientConn
}

func TestRegisterClientMovesBetweenConversations(t *testing.T) {
	h := New()
	client, _ := dialClient(t)

	convA := uuid.New()
	convB := uuid.New()

	h.RegisterClient(client, convA)
	require.Equal(t, 1, h.ClientCount(convA))

	h.RegisterClient(client, convB)
	require.Equal(t, 0, h.ClientCount(convA), "a client appears in at most one conversation's set")
	require.Equal(t, 1, h.ClientCount(convB))
}

func TestRemoveClientDeletesEmptySet(t *testing.T) {
	h := New()
	client, _ := dialClient(t)
	conv := uuid.New()

	h.RegisterClient(client, conv)
	require.Equal(t, 1, h.ClientCount(conv))

	h.RemoveClient(client)
	require.Equal(t, 0, h.ClientCount(conv))

	_, exists := h.byConv[conv]
	require.False(t, exists, "an empty conversation set should be deleted, not left dangling")
}

func TestBroadcastMessageDeliversToSubscribedClients(t *testing.T) {
	h := New()
	client, clientConn := dialClient(t)
	conv := uuid.New()
	h.RegisterClient(client, conv)

	h.BroadcastMessage(conv, Envelope{Type: "transcription_started"})

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Envelope
	require.NoError(t, clientConn.ReadJSON(&got))
	require.Equal(t, "transcription_started", got.Type)
}

func TestBroadcastMessageSkipsClosedClientsWithoutPanicking(t *testing.T) {
	h := New()
	client, clientConn := dialClient(t)
	conv := uuid.New()
	h.RegisterClient(client, conv)

	clientConn.Close()
	time.Sleep(50 * time.Millisecond)

	require.NotPanics(t, func() {
		h.BroadcastMessage(conv, Envelope{Type: "new_message"})
	})
}

// TestConcurrentBroadcastAndDirectWriteSerializes exercises the write
// chokepoint: hub broadcasts and the handler's own replies share one
// connection, which allows only a single concurrent writer. Run with -race.
func TestConcurrentBroadcastAndDirectWriteSerializes(t *testing.T) {
	h := New()
	client, clientConn := dialClient(t)
	conv := uuid.New()
	h.RegisterClient(client, conv)

	const perWriter = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < perWriter; i++ {
			h.BroadcastMessage(conv, Envelope{Type: "new_message"})
		}
	}()
	for i := 0; i < perWriter; i++ {
		require.NoError(t, client.WriteJSON(Envelope{Type: "message_received"}))
	}
	<-done

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2*perWriter; i++ {
		var got Envelope
		require.NoError(t, clientConn.ReadJSON(&got), "frame %d must arrive intact", i)
	}
}

func TestNotifyActionCreatedWrapsEnvelope(t *testing.T) {
	h := New()
	client, clientConn := dialClient(t)
	conv := uuid.New()
	h.RegisterClient(client, conv)

	h.NotifyActionCreated(conv, map[string]string{"id": "abc"})

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Envelope
	require.NoError(t, clientConn.ReadJSON(&got))
	require.Equal(t, "action_created", got.Type)
}
