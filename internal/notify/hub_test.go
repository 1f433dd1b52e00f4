package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHubServer serves the hub at /{itemID}
func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		itemID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/"), 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, itemID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, itemID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + strconv.FormatInt(itemID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub)

	first := dial(t, srv, 1)
	second := dial(t, srv, 1)
	other := dial(t, srv, 2)
	require.Eventually(t, func() bool {
		return hub.Subscribers(1) == 2 && hub.Subscribers(2) == 1
	}, time.Second, 10*time.Millisecond)

	ev := BidEvent{EventID: "e1", ItemID: 1, BidID: 5, Amount: 50}
	require.NoError(t, hub.Publish(context.Background(), ev))

	for _, conn := range []*websocket.Conn{first, second} {
		var got BidEvent
		conn.SetReadDeadline(time.Now().Add(time.Second))
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, ev, got)
	}

	// Watchers of another item hear nothing
	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub)

	conn := dial(t, srv, 7)
	require.Eventually(t, func() bool { return hub.Subscribers(7) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(7) == 0 }, time.Second, 10*time.Millisecond)

	// Broadcasting to an item nobody watches is a no-op
	hub.Broadcast(7, []byte(`{}`))
}

func TestHub_DropsSlowWatcher(t *testing.T) {
	hub := NewHub()
	c := &client{send: make(chan []byte, 1)}
	hub.add(3, c)

	hub.Broadcast(3, []byte("a"))
	assert.Equal(t, 1, hub.Subscribers(3))
	hub.Broadcast(3, []byte("b"))
	assert.Equal(t, 0, hub.Subscribers(3))

	// send is closed once the buffered payload is read
	assert.Equal(t, []byte("a"), <-c.send)
	_, open := <-c.send
	assert.False(t, open)
}
