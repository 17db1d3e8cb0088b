package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tinyviz/tinyviz/pkg/series"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Broadcasts and keepalive pings target the same connection from
// different goroutines; the write path must serialize them.
func TestLiveConn_ConcurrentWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	client := &liveConn{conn: conn}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := client.write(websocket.TextMessage, []byte("tick")); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestBroadcastWindow_DeliversToClient(t *testing.T) {
	hub := NewStreamHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	h := newTestHandler(t)
	srv := httptest.NewServer(h.HandleLive(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !hub.HasClients() {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(2 * time.Millisecond)
	}

	hub.BroadcastWindow([]series.Point{{X: 1, Y: 2}}, 30)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var update WindowUpdate
	require.NoError(t, json.Unmarshal(message, &update))
	require.Equal(t, "window_update", update.Type)
	require.Equal(t, 1, update.Count)
	require.Equal(t, float64(30), update.Rate)
	require.Equal(t, float64(1), update.Points[0].X)
}

func TestBroadcastWindow_NoClientsIsNoOp(t *testing.T) {
	hub := NewStreamHub()

	// Without clients the snapshot is dropped before encoding; the
	// broadcast channel stays empty.
	hub.BroadcastWindow([]series.Point{{X: 1, Y: 1}}, 1)

	select {
	case <-hub.broadcast:
		t.Fatal("broadcast enqueued with no clients connected")
	default:
	}
}
