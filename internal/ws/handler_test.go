package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hum/internal/protocol"
	"hum/internal/rooms"
)

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://hum.example/", "http://localhost:5173"}
	cases := map[string]bool{
		"":                      true,
		"https://hum.example":   true,
		"http://localhost:5173": true,
		"https://evil.example":  false,
	}
	for origin, want := range cases {
		if got := OriginAllowed(allowed, origin); got != want {
			t.Errorf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
	if !OriginAllowed(nil, "https://anything") || !OriginAllowed([]string{"*"}, "https://anything") {
		t.Error("empty list and wildcard should admit everyone")
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.InboundEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env protocol.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad envelope %s: %v", data, err)
	}
	return env
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

// TestHandlerJoinFlow 测试通过 websocket 加入房间的完整流程
func TestHandlerJoinFlow(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(NewHandler(manager, nil, DefaultOptions()))
	defer srv.Close()

	conn := dial(t, srv.URL)
	defer conn.Close()

	welcome := readEnvelope(t, conn)
	if welcome.Event != protocol.EventWelcome {
		t.Fatalf("expected welcome first, got %s", welcome.Event)
	}
	w, err := protocol.Decode[protocol.Welcome](welcome.Data)
	if err != nil || w.ConnectionID == "" {
		t.Fatalf("welcome should carry an id: %v", err)
	}

	join := `{"event":"join_room","data":"alpha"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	state := readEnvelope(t, conn)
	if state.Event != protocol.EventReceiveState {
		t.Fatalf("expected receive_state, got %s", state.Event)
	}
	count := readEnvelope(t, conn)
	if count.Event != protocol.EventUserCountUpdate {
		t.Fatalf("expected user_count_update, got %s", count.Event)
	}
	uc, _ := protocol.Decode[protocol.UserCount](count.Data)
	if uc.Count != 1 || uc.RoomID != "alpha" {
		t.Errorf("unexpected count %+v", uc)
	}
}

// TestHandlerDisconnectLeaves 测试关闭连接后离开房间
func TestHandlerDisconnectLeaves(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(NewHandler(manager, nil, DefaultOptions()))
	defer srv.Close()

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)
	defer b.Close()
	readEnvelope(t, a)
	readEnvelope(t, b)

	a.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_room","data":{"roomId":"alpha"}}`))
	readEnvelope(t, a)
	readEnvelope(t, a)
	b.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_room","data":{"roomId":"alpha"}}`))
	readEnvelope(t, b)
	readEnvelope(t, b)

	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, b)
		if env.Event != protocol.EventUserCountUpdate {
			continue
		}
		uc, _ := protocol.Decode[protocol.UserCount](env.Data)
		if uc.Count == 1 {
			return
		}
	}
	t.Error("b never saw the count drop to 1")
}
