package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hum/internal/protocol"
	"hum/internal/rooms"
	"hum/internal/ws"
)

type nopConn struct{ id string }

func (c nopConn) ID() string             { return c.id }
func (c nopConn) Send(protocol.Envelope) {}

// TestStatusEndpoint 测试状态接口
func TestStatusEndpoint(t *testing.T) {
	manager := rooms.NewManager()
	manager.Connect(nopConn{id: "conn-a"})
	manager.Connect(nopConn{id: "conn-b"})
	manager.Join("conn-a", "alpha")
	manager.Join("conn-b", "beta")
	srv := NewServer(manager, nil, ws.DefaultOptions())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Rooms != 2 || body.TotalUsers != 2 || body.Service != serviceName {
		t.Errorf("unexpected status %+v", body)
	}
}

// TestGetRoomEndpoint 测试房间快照接口
func TestGetRoomEndpoint(t *testing.T) {
	manager := rooms.NewManager()
	manager.Connect(nopConn{id: "conn-a"})
	manager.Join("conn-a", "alpha")
	srv := NewServer(manager, nil, ws.DefaultOptions())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/alpha", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap protocol.RoomSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if snap.Members != 1 || snap.RoomID != "alpha" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "room_not_found") {
		t.Errorf("unexpected error body %s", rec.Body.String())
	}
}

// TestWebSocketRoute 测试 echo 下的 websocket 路由
func TestWebSocketRoute(t *testing.T) {
	srv := httptest.NewServer(NewServer(rooms.NewManager(), nil, ws.DefaultOptions()).Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env protocol.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != protocol.EventWelcome {
		t.Errorf("expected welcome, got %s (%v)", data, err)
	}
}
