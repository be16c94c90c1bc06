package rooms

import "hum/internal/protocol"

// The helpers below assume m.mu is held.

func (m *Manager) sendTo(connID string, envelope protocol.Envelope) bool {
	c, ok := m.conns[connID]
	if !ok {
		return false
	}
	c.Send(envelope)
	return true
}

// broadcast delivers envelope to every member of roomID except exceptID
// and returns how many connections it reached.
func (m *Manager) broadcast(roomID, exceptID string, envelope protocol.Envelope) int {
	n := 0
	for _, id := range m.members.IDs(roomID) {
		if id == exceptID {
			continue
		}
		if m.sendTo(id, envelope) {
			n++
		}
	}
	return n
}

func (m *Manager) broadcastPresence(roomID string) {
	m.broadcast(roomID, "", protocol.Envelope{
		Event: protocol.EventUserCountUpdate,
		Data: protocol.UserCount{
			Count:  m.members.Count(roomID),
			RoomID: roomID,
		},
	})
}

// view exposes the locked fan-out helpers to the signaling relay.
type view struct{ m *Manager }

func (v view) SendTo(connID string, envelope protocol.Envelope) bool {
	return v.m.sendTo(connID, envelope)
}

func (v view) Broadcast(roomID, exceptID string, envelope protocol.Envelope) int {
	return v.m.broadcast(roomID, exceptID, envelope)
}

func (v view) IsMember(roomID, connID string) bool {
	return v.m.members.Has(roomID, connID)
}
