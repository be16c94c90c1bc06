package syncclient

type Track struct {
	ID      string
	Title   string
	Channel string
}

// History is the ordered list of tracks this client has seen in the room,
// with a cursor at the current one. Visiting a new track from the middle
// drops everything after the cursor.
type History struct {
	entries []Track
	cursor  int
	limit   int
}

func NewHistory(limit int) *History {
	return &History{cursor: -1, limit: limit}
}

func (h *History) Current() (Track, bool) {
	if h.cursor < 0 {
		return Track{}, false
	}
	return h.entries[h.cursor], true
}

func (h *History) Visit(t Track) {
	if cur, ok := h.Current(); ok && cur.ID == t.ID {
		if t.Title != "" {
			h.entries[h.cursor].Title = t.Title
		}
		if t.Channel != "" {
			h.entries[h.cursor].Channel = t.Channel
		}
		return
	}
	h.entries = append(h.entries[:h.cursor+1], t)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	h.cursor = len(h.entries) - 1
}

func (h *History) Back() (Track, bool) {
	if h.cursor <= 0 {
		return Track{}, false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

func (h *History) Forward() (Track, bool) {
	if h.cursor+1 >= len(h.entries) {
		return Track{}, false
	}
	h.cursor++
	return h.entries[h.cursor], true
}

func (h *History) Len() int { return len(h.entries) }
