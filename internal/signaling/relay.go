// Package signaling forwards WebRTC negotiation between members of a room.
// The relay keeps no per-peer state; it only reads membership through Fanout.
package signaling

import (
	"errors"

	"github.com/rs/zerolog/log"

	"hum/internal/protocol"
)

var (
	ErrNotMember     = errors.New("sender is not a member of the room")
	ErrUnknownTarget = errors.New("target is not a member of the room")
	ErrSelfTarget    = errors.New("signal addressed to sender")
)

// Fanout is the delivery surface the relay needs from the room router.
type Fanout interface {
	SendTo(connID string, envelope protocol.Envelope) bool
	Broadcast(roomID, exceptID string, envelope protocol.Envelope) int
	IsMember(roomID, connID string) bool
}

type Relay struct{}

// Handles reports whether event belongs to the relay.
func (Relay) Handles(event string) bool {
	switch event {
	case protocol.EventVoiceEnabled, protocol.EventVoiceDisabled,
		protocol.EventVoiceOffer, protocol.EventVoiceAnswer, protocol.EventVoiceICECandidate:
		return true
	}
	return false
}

// Handle applies one inbound voice event from senderID.
func (r Relay) Handle(f Fanout, senderID string, in protocol.InboundEnvelope) error {
	switch in.Event {
	case protocol.EventVoiceEnabled, protocol.EventVoiceDisabled:
		toggle, err := protocol.Decode[protocol.VoiceToggle](in.Data)
		if err != nil {
			return err
		}
		if in.Event == protocol.EventVoiceEnabled {
			return r.Enabled(f, senderID, toggle.RoomID)
		}
		return r.Disabled(f, senderID, toggle.RoomID)
	default:
		sig, err := protocol.Decode[protocol.VoiceSignal](in.Data)
		if err != nil {
			return err
		}
		return r.Forward(f, in.Event, senderID, sig)
	}
}

// Enabled tells the rest of the room that senderID joined the voice mesh.
// Peers that already have voice on respond by offering to the sender.
func (Relay) Enabled(f Fanout, senderID, roomID string) error {
	if !f.IsMember(roomID, senderID) {
		return ErrNotMember
	}
	n := f.Broadcast(roomID, senderID, protocol.Envelope{
		Event: protocol.EventVoiceUserEnabled,
		Data:  protocol.VoiceUser{UserID: senderID},
	})
	log.Info().Str("module", "signaling").Str("room", roomID).Str("sid", senderID).Int("notified", n).Msg("voice enabled")
	return nil
}

func (Relay) Disabled(f Fanout, senderID, roomID string) error {
	if !f.IsMember(roomID, senderID) {
		return ErrNotMember
	}
	n := f.Broadcast(roomID, senderID, protocol.Envelope{
		Event: protocol.EventVoiceUserDisabled,
		Data:  protocol.VoiceUser{UserID: senderID},
	})
	log.Info().Str("module", "signaling").Str("room", roomID).Str("sid", senderID).Int("notified", n).Msg("voice disabled")
	return nil
}

// Forward delivers an offer, answer or candidate to sig.TargetID only,
// tagged with the sender. The payload is never inspected.
func (Relay) Forward(f Fanout, event, senderID string, sig protocol.VoiceSignal) error {
	if sig.TargetID == senderID {
		return ErrSelfTarget
	}
	if !f.IsMember(sig.RoomID, senderID) {
		return ErrNotMember
	}
	if !f.IsMember(sig.RoomID, sig.TargetID) {
		return ErrUnknownTarget
	}
	f.SendTo(sig.TargetID, protocol.Envelope{
		Event: event,
		Data:  protocol.VoiceRelayed{SenderID: senderID, Payload: sig.Payload},
	})
	log.Debug().Str("module", "signaling").Str("event", event).Str("from", senderID).Str("to", sig.TargetID).Msg("relayed")
	return nil
}

// Departed tells roomID that connID left, so peers drop their connection to
// it without waiting for ICE to fail.
func (Relay) Departed(f Fanout, connID, roomID string) {
	f.Broadcast(roomID, connID, protocol.Envelope{
		Event: protocol.EventVoiceUserDisabled,
		Data:  protocol.VoiceUser{UserID: connID},
	})
}
