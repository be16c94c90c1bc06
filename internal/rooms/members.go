package rooms

import "sort"

// Members tracks which connections belong to which room. A connection is in
// at most one room. Like Store it is owned by the Manager.
type Members struct {
	rooms  map[string]map[string]struct{}
	byConn map[string]string
}

func NewMembers() *Members {
	return &Members{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

func (m *Members) Add(roomID, connID string) {
	set, ok := m.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		m.rooms[roomID] = set
	}
	set[connID] = struct{}{}
	m.byConn[connID] = roomID
}

// Remove takes connID out of its room and reports the room and how many
// members remain. The (possibly empty) set is kept until Drop.
func (m *Members) Remove(connID string) (roomID string, remaining int, ok bool) {
	roomID, ok = m.byConn[connID]
	if !ok {
		return "", 0, false
	}
	delete(m.byConn, connID)
	set := m.rooms[roomID]
	delete(set, connID)
	return roomID, len(set), true
}

func (m *Members) RoomOf(connID string) (string, bool) {
	roomID, ok := m.byConn[connID]
	return roomID, ok
}

func (m *Members) Has(roomID, connID string) bool {
	_, ok := m.rooms[roomID][connID]
	return ok
}

func (m *Members) Count(roomID string) int {
	return len(m.rooms[roomID])
}

// IDs returns the members of roomID in a stable order.
func (m *Members) IDs(roomID string) []string {
	set := m.rooms[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Drop forgets the member set of roomID.
func (m *Members) Drop(roomID string) {
	for id := range m.rooms[roomID] {
		delete(m.byConn, id)
	}
	delete(m.rooms, roomID)
}

func (m *Members) Total() int {
	return len(m.byConn)
}
