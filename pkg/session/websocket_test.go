package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve upgrades one connection and hands the transport to the test
func serve(t *testing.T) (*websocket.Conn, *WebSocketTransport) {
	t.Helper()
	transports := make(chan *WebSocketTransport, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr := NewWebSocketTransport(conn, WebSocketOptions{PongWait: time.Second, PingInterval: 50 * time.Millisecond})
		tr.Start()
		transports <- tr
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case tr := <-transports:
		return client, tr
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded")
		return nil, nil
	}
}

func TestWebSocketTransportSendJSON(t *testing.T) {
	client, tr := serve(t)
	assert.Equal(t, StateConnected, tr.State())
	assert.NotEmpty(t, tr.ID())

	require.NoError(t, tr.SendJSON(map[string]string{"type": "info", "message": "hello"}))

	var got map[string]string
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "info", got["type"])
	assert.Equal(t, "hello", got["message"])
}

func TestWebSocketTransportClose(t *testing.T) {
	client, tr := serve(t)

	require.NoError(t, tr.Close(CloseNormal, "Session ended"))
	assert.ErrorIs(t, tr.Close(CloseNormal, "again"), ErrTransportClosed)
	assert.Equal(t, StateDisconnected, tr.State())
	assert.ErrorIs(t, tr.SendJSON("late"), ErrTransportClosed)

	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseNormal, ce.Code)
	assert.Equal(t, "Session ended", ce.Text)
}

func TestWebSocketTransportDetectsClientClose(t *testing.T) {
	client, tr := serve(t)

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = client.Close()

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not notice client close")
	}
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Error(t, tr.SendJSON("x"))
}

func TestWebSocketTransportPings(t *testing.T) {
	client, tr := serve(t)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
	assert.Equal(t, StateConnected, tr.State())
}

func TestWebSocketOptionsDefaults(t *testing.T) {
	o := WebSocketOptions{PingInterval: time.Minute, PongWait: 30 * time.Second}
	o.applyDefaults()
	assert.Less(t, o.PingInterval, o.PongWait)
	assert.Equal(t, 10*time.Second, o.WriteTimeout)
	assert.Equal(t, int64(4096), o.ReadLimit)
}
