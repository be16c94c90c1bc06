package rooms

// Store holds the authoritative State of every live room.
//
// A Store has exactly one writer: the Manager, which serializes every call.
// Implementations need not be safe for concurrent use, and a replacement
// backed by a shared store must preserve that single-writer contract.
type Store interface {
	Get(roomID string) (*State, bool)
	Create(roomID string, st State) *State
	Delete(roomID string)
	// ForEach visits rooms until fn returns false.
	ForEach(fn func(roomID string, st *State) bool)
	Len() int
}

type MemoryStore struct {
	rooms map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*State)}
}

func (s *MemoryStore) Get(roomID string) (*State, bool) {
	st, ok := s.rooms[roomID]
	return st, ok
}

func (s *MemoryStore) Create(roomID string, st State) *State {
	if existing, ok := s.rooms[roomID]; ok {
		return existing
	}
	created := &st
	s.rooms[roomID] = created
	return created
}

func (s *MemoryStore) Delete(roomID string) {
	delete(s.rooms, roomID)
}

func (s *MemoryStore) ForEach(fn func(roomID string, st *State) bool) {
	for id, st := range s.rooms {
		if !fn(id, st) {
			return
		}
	}
}

func (s *MemoryStore) Len() int {
	return len(s.rooms)
}
