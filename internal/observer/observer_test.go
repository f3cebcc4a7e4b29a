package observer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sssooonnnggg/luaud/internal/logging"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	log := logging.New(logging.Config{Outputs: []io.Writer{io.Discard}})
	t.Cleanup(log.Close)

	hub := NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestPublishReachesSpectator(t *testing.T) {
	hub, srv := newTestHub(t)
	ws := dial(t, srv)

	// Registration races Publish; wait for the hub to see the
	// connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("stopped", map[string]interface{}{"reason": "breakpoint", "line": 42})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "stopped", ev.Type)
	data := ev.Data.(map[string]interface{})
	assert.Equal(t, "breakpoint", data["reason"])
}

func TestPublishAfterShutdownIsDropped(t *testing.T) {
	log := logging.New(logging.Config{Outputs: []io.Writer{io.Discard}})
	defer log.Close()
	hub := NewHub(log)
	go hub.Run()
	hub.Shutdown()
	hub.Publish("stopped", nil) // must not panic or block
}

func TestSpectatorInputIsIgnored(t *testing.T) {
	hub, srv := newTestHub(t)
	ws := dial(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A spectator sending a frame changes nothing; the next broadcast
	// still arrives.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"continue"}`)))
	hub.Publish("output", map[string]interface{}{"text": "hello"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "output", ev.Type)
}
