package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnNilSafety(t *testing.T) {
	t.Parallel()

	var c *Conn
	_, err := c.ReadMessage()
	assert.Error(t, err)
	assert.Error(t, c.WriteMessage(&Message{Type: MessageTypeHeartbeat}, time.Second))
	assert.Error(t, c.WritePing(time.Second))
	assert.Error(t, c.WriteClose("bye", time.Second))
	assert.Error(t, c.SetReadDeadline(time.Now()))
	c.SetPongHandler(nil)
	assert.NoError(t, c.Close())
	assert.Empty(t, c.RemoteAddr())
}

func TestDialRejectsBadScheme(t *testing.T) {
	t.Parallel()

	_, _, err := Dial("http://example.com/ws", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws or wss")

	_, _, err = Dial("::bad", nil, time.Second)
	require.Error(t, err)
}

func TestHandlerStreamsBroadcasts(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	defer hub.Stop()

	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	conn, _, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, hub, 1)
	hub.Broadcast(Message{Type: MessageTypeDeviceFinished, Data: map[string]interface{}{"address": "10.0.0.9"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageTypeDeviceFinished, msg.Type)
	assert.Equal(t, "10.0.0.9", msg.Data["address"])

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}

func TestHandlerClosesOnHubStop(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, nil))
	defer srv.Close()

	conn, _, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.ReadMessage()
	assert.Error(t, err, "server should close the stream")
}
