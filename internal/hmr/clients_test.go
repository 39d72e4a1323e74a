package hmr

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ClientPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPayload(t *testing.T, conn *websocket.Conn) Payload {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	p, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return p
}

func waitClients(t *testing.T, hub *ClientHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientHub_Broadcast(t *testing.T) {
	hub := NewClientHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	conn := dial(t, srv)
	if p := readPayload(t, conn); p.Type != PayloadConnected {
		t.Fatalf("first payload = %q, want connected", p.Type)
	}
	waitClients(t, hub, 1)

	hub.NotifyReload()
	if p := readPayload(t, conn); p.Type != PayloadFullReload {
		t.Errorf("payload = %q, want full-reload", p.Type)
	}

	hub.NotifyCSS("/src/frontend/site.css")
	p := readPayload(t, conn)
	if p.Type != PayloadUpdate || len(p.Updates) != 1 || p.Updates[0].Type != UpdateCSS {
		t.Errorf("css payload = %+v", p)
	}

	hub.NotifyError("boom", "/p/app.go")
	p = readPayload(t, conn)
	if p.Type != PayloadError || p.Err == nil || p.Err.Message != "boom" || p.Err.Module != "/p/app.go" {
		t.Errorf("error payload = %+v", p)
	}

	hub.ClearError()
	if p := readPayload(t, conn); p.Type != PayloadClear {
		t.Errorf("payload = %q, want clear", p.Type)
	}
}

func TestClientHub_Disconnect(t *testing.T) {
	hub := NewClientHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readPayload(t, conn)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestClientScript(t *testing.T) {
	for _, want := range []string{"WebSocket", ClientPath, "location.reload", "full-reload", "css-update"} {
		if !strings.Contains(ClientScript, want) {
			t.Errorf("ClientScript missing %q", want)
		}
	}
}
