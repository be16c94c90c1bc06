package rooms

import "github.com/rs/zerolog/log"

// markEmpty records when roomID became empty and arms a sweep after the
// grace period. Timers are never cancelled; the sweep rechecks instead.
func (m *Manager) markEmpty(roomID string) {
	m.emptyAt[roomID] = m.clock.Now()
	m.after(m.grace, func() { m.sweep(roomID) })
}

// sweep deletes roomID if it is still empty and has been for the whole
// grace period. An older timer firing after a rejoin and a second leave
// finds a newer emptyAt and leaves the room alone.
func (m *Manager) sweep(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members.Count(roomID) > 0 {
		return
	}
	since, ok := m.emptyAt[roomID]
	if !ok || m.clock.Since(since) < m.grace {
		return
	}
	delete(m.emptyAt, roomID)
	m.store.Delete(roomID)
	m.members.Drop(roomID)
	log.Info().Str("module", "rooms").Str("room", roomID).Msg("room cleaned up")
}
