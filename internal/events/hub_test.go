package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	h := NewHub("*")
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, h, 2)

	h.Publish(context.Background(), PriceUpdate{ItemID: "1", Name: "Case Key", Price: 2.49})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got PriceUpdate
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Name != "Case Key" || got.Price != 2.49 {
			t.Fatalf("unexpected update %+v", got)
		}
	}
}

func TestHub_ClientDisconnectIsRemoved(t *testing.T) {
	h := NewHub("")
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)

	// publishing with nobody connected is a no-op
	h.Publish(context.Background(), PriceUpdate{Name: "x"})
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	h := NewHub("https://app.example.com")
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if h.Clients() != 0 {
		t.Fatal("rejected client must not be registered")
	}
}

type recorder struct{ got []PriceUpdate }

func (r *recorder) Publish(_ context.Context, u PriceUpdate) { r.got = append(r.got, u) }

func TestMulti_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, Nop, b}

	m.Publish(context.Background(), PriceUpdate{Name: "AK"})

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected each publisher to receive the update, got %d and %d", len(a.got), len(b.got))
	}
}
