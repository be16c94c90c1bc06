package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Client -> server events.
const (
	EventJoinRoom      = "join_room"
	EventUpdateState   = "update_state"
	EventChangeVideo   = "change_video"
	EventSendMessage   = "send_message"
	EventVoiceEnabled  = "voice:enabled"
	EventVoiceDisabled = "voice:disabled"
)

// Server -> client events.
const (
	EventWelcome           = "welcome"
	EventReceiveState      = "receive_state"
	EventUserCountUpdate   = "user_count_update"
	EventReceiveMessage    = "receive_message"
	EventVoiceUserEnabled  = "voice:user-enabled"
	EventVoiceUserDisabled = "voice:user-disabled"
	EventError             = "error"
)

// Relayed in both directions.
const (
	EventVoiceOffer        = "voice:offer"
	EventVoiceAnswer       = "voice:answer"
	EventVoiceICECandidate = "voice:ice-candidate"
)

var ErrEmptyRoomID = errors.New("empty room id")

type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoom accepts either a bare JSON string or {"roomId": "..."}.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

func (j *JoinRoom) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &j.RoomID)
	}
	type plain JoinRoom
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*j = JoinRoom(p)
	return nil
}

type UpdateState struct {
	RoomID                string  `json:"roomId"`
	VideoID               string  `json:"videoId,omitempty"`
	IsPlaying             bool    `json:"isPlaying"`
	TimestampAtLastAction float64 `json:"timestampAtLastAction"`
}

type ChangeVideo struct {
	RoomID  string `json:"roomId"`
	VideoID string `json:"videoId"`
	Title   string `json:"title,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type SendMessage struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type VoiceToggle struct {
	RoomID string `json:"roomId"`
}

// VoiceSignal is an offer, answer or ICE candidate addressed to one peer.
// Payload is forwarded untouched.
type VoiceSignal struct {
	RoomID   string          `json:"roomId"`
	TargetID string          `json:"targetId"`
	Payload  json.RawMessage `json:"payload"`
}

type Welcome struct {
	ConnectionID string `json:"connectionId"`
}

// StatePush is the receive_state payload. CurrentSeconds is the position the
// receiver should converge to; ServerTime is the server clock when it was sent.
type StatePush struct {
	VideoID        string  `json:"videoId"`
	IsPlaying      bool    `json:"isPlaying"`
	CurrentSeconds float64 `json:"currentSeconds"`
	ServerTime     int64   `json:"serverTime"`
	Title          string  `json:"title,omitempty"`
	Channel        string  `json:"channel,omitempty"`
}

type UserCount struct {
	Count  int    `json:"count"`
	RoomID string `json:"roomId"`
}

type ReceiveMessage struct {
	Message   string `json:"message"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

type VoiceUser struct {
	UserID string `json:"userId"`
}

type VoiceRelayed struct {
	SenderID string          `json:"senderId"`
	Payload  json.RawMessage `json:"payload"`
}

// RoomSnapshot is the HTTP view of a room.
type RoomSnapshot struct {
	RoomID         string  `json:"roomId"`
	VideoID        string  `json:"videoId"`
	IsPlaying      bool    `json:"isPlaying"`
	CurrentSeconds float64 `json:"currentSeconds"`
	ServerTime     int64   `json:"serverTime"`
	Members        int     `json:"members"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode unmarshals an inbound payload into a typed message.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("empty payload")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
