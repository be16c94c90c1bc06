package syncclient

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"hum/internal/protocol"
)

// Message is a whisper shown until its display window ends.
type Message struct {
	ID         string
	Text       string
	SenderID   string
	Timestamp  int64
	ReceivedAt time.Time
}

type Inbox struct {
	mu       sync.Mutex
	ttl      time.Duration
	messages []Message
}

func NewInbox(ttl time.Duration) *Inbox {
	return &Inbox{ttl: ttl}
}

func (in *Inbox) Add(msg protocol.ReceiveMessage, now time.Time) Message {
	m := Message{
		ID:         uuid.NewString(),
		Text:       msg.Message,
		SenderID:   msg.SenderID,
		Timestamp:  msg.Timestamp,
		ReceivedAt: now,
	}
	in.mu.Lock()
	in.messages = append(in.messages, m)
	in.mu.Unlock()
	return m
}

// Prune drops messages whose window ended at or before now.
func (in *Inbox) Prune(now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	kept := in.messages[:0]
	for _, m := range in.messages {
		if now.Sub(m.ReceivedAt) < in.ttl {
			kept = append(kept, m)
		}
	}
	in.messages = kept
}

func (in *Inbox) Active(now time.Time) []Message {
	in.Prune(now)
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Message, len(in.messages))
	copy(out, in.messages)
	return out
}
