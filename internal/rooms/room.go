package rooms

import (
	"hum/internal/playhead"
	"hum/internal/protocol"
)

// Conn is a connected client as the router sees it. Send must not block.
type Conn interface {
	ID() string
	Send(envelope protocol.Envelope)
}

// State is the authoritative playback state of one room.
type State struct {
	VideoID             string
	IsPlaying           bool
	ReferenceWallTime   int64
	PositionAtReference float64
}

func (s State) Anchor() playhead.Anchor {
	return playhead.Anchor{
		Position: s.PositionAtReference,
		WallTime: s.ReferenceWallTime,
		Playing:  s.IsPlaying,
	}
}

// PositionAt extrapolates the room position to now (ms since epoch).
func (s State) PositionAt(now int64) float64 {
	return playhead.Compute(s.Anchor(), now)
}

func (s State) push(currentSeconds float64, now int64) protocol.StatePush {
	return protocol.StatePush{
		VideoID:        s.VideoID,
		IsPlaying:      s.IsPlaying,
		CurrentSeconds: currentSeconds,
		ServerTime:     now,
	}
}

// shortID is the display handle attached to chat messages.
func shortID(connID string) string {
	if len(connID) <= 6 {
		return connID
	}
	return connID[:6]
}
