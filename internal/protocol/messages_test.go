package protocol

import (
	"encoding/json"
	"testing"
)

func TestJoinRoomAcceptsBareString(t *testing.T) {
	j, err := Decode[JoinRoom](json.RawMessage(`"alpha"`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.RoomID != "alpha" {
		t.Errorf("expected alpha, got %q", j.RoomID)
	}
}

func TestJoinRoomAcceptsObject(t *testing.T) {
	j, err := Decode[JoinRoom](json.RawMessage(`{"roomId":"beta"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if j.RoomID != "beta" {
		t.Errorf("expected beta, got %q", j.RoomID)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode[UpdateState](nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

// TestVoiceSignalKeepsPayload 测试信令负载原样保留
func TestVoiceSignalKeepsPayload(t *testing.T) {
	raw := `{"roomId":"r","targetId":"peer","payload":{"type":"offer","sdp":"v=0"}}`
	sig, err := Decode[VoiceSignal](json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(sig.Payload) != `{"type":"offer","sdp":"v=0"}` {
		t.Errorf("payload changed: %s", sig.Payload)
	}
}

func TestStatePushOmitsEmptyMetadata(t *testing.T) {
	data, err := json.Marshal(StatePush{VideoID: "abc", CurrentSeconds: 1.5, ServerTime: 10})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := m["title"]; ok {
		t.Error("title should be omitted when empty")
	}
	if m["currentSeconds"] != 1.5 {
		t.Errorf("unexpected currentSeconds: %v", m["currentSeconds"])
	}
}
