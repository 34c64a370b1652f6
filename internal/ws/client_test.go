package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClientPair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	clients := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		clients <- NewClient(conn, discardLogger())
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	select {
	case c := <-clients:
		return c, peer
	case <-time.After(2 * time.Second):
		t.Fatalf("server never accepted the websocket")
		return nil, nil
	}
}

func TestClientDeliversAndClosesNormally(t *testing.T) {
	client, peer := newClientPair(t)
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := client.Send([]byte(`{"to":"RUNNING"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, msg, err := peer.ReadMessage()
	if err != nil || string(msg) != `{"to":"RUNNING"}` {
		t.Fatalf("unexpected message %q err=%v", msg, err)
	}

	client.Close()
	client.Close()
	if _, _, err := peer.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal close frame, got %v", err)
	}
	if err := client.Send([]byte("late")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestClientDropsSlowSubscriber(t *testing.T) {
	// no writer: the backlog is never drained.
	client := &Client{log: discardLogger(), out: make(chan []byte, sendBacklog), done: make(chan struct{})}

	for i := 0; i < sendBacklog; i++ {
		if err := client.Send([]byte("event")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := client.Send([]byte("event")); !errors.Is(err, ErrSlowClient) {
		t.Fatalf("expected ErrSlowClient, got %v", err)
	}
	select {
	case <-client.done:
	default:
		t.Fatalf("slow client was not closed")
	}
}
