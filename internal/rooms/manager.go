package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"hum/internal/protocol"
	"hum/internal/ratelimit"
	"hum/internal/signaling"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnknownConn  = errors.New("connection not registered")
	ErrEmptyVideoID = errors.New("empty video id")
	ErrEmptyMessage = errors.New("empty message")
	ErrRateLimited  = errors.New("chat rate limit exceeded")
	ErrUnknownEvent = errors.New("unknown event")
)

const (
	DefaultGracePeriod   = 30 * time.Second
	DefaultMaxMessageLen = 100
)

// Manager is the event router. It owns the room store and the member sets
// and applies one inbound event at a time under mu.
type Manager struct {
	mu      sync.Mutex
	store   Store
	members *Members
	conns   map[string]Conn
	emptyAt map[string]time.Time

	clock         clock.Clock
	after         func(time.Duration, func())
	grace         time.Duration
	limiter       ratelimit.Limiter
	maxMessageLen int
	relay         signaling.Relay
}

type Option func(*Manager)

func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithScheduler replaces the timer used for deferred room cleanup.
func WithScheduler(after func(time.Duration, func())) Option {
	return func(m *Manager) { m.after = after }
}

func WithGracePeriod(d time.Duration) Option { return func(m *Manager) { m.grace = d } }

func WithLimiter(l ratelimit.Limiter) Option { return func(m *Manager) { m.limiter = l } }

func WithMaxMessageLength(n int) Option { return func(m *Manager) { m.maxMessageLen = n } }

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		members:       NewMembers(),
		conns:         make(map[string]Conn),
		emptyAt:       make(map[string]time.Time),
		grace:         DefaultGracePeriod,
		maxMessageLen: DefaultMaxMessageLen,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.after == nil {
		clk := m.clock
		m.after = func(d time.Duration, fn func()) { clk.AfterFunc(d, fn) }
	}
	return m
}

func (m *Manager) now() int64 {
	return m.clock.Now().UnixMilli()
}

// Connect registers c and greets it with its connection id.
func (m *Manager) Connect(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID()] = c
	c.Send(protocol.Envelope{
		Event: protocol.EventWelcome,
		Data:  protocol.Welcome{ConnectionID: c.ID()},
	})
	log.Debug().Str("module", "rooms").Str("sid", c.ID()).Msg("connected")
}

// Disconnect is an implicit leave followed by forgetting the connection.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	m.leaveLocked(connID)
	delete(m.conns, connID)
	m.mu.Unlock()

	if f, ok := m.limiter.(interface{ Forget(string) }); ok {
		f.Forget(connID)
	}
	log.Debug().Str("module", "rooms").Str("sid", connID).Msg("disconnected")
}

// Dispatch decodes and applies one inbound event. Failures are logged and
// dropped; nothing is reported back to the sender.
func (m *Manager) Dispatch(ctx context.Context, connID string, in protocol.InboundEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "rooms").Str("event", in.Event).Str("sid", connID).
				Interface("panic", r).Msg("event handler panicked")
		}
	}()

	if err := m.dispatch(ctx, connID, in); err != nil {
		log.Warn().Str("module", "rooms").Str("event", in.Event).Str("sid", connID).Err(err).Msg("event dropped")
	}
}

func (m *Manager) dispatch(ctx context.Context, connID string, in protocol.InboundEnvelope) error {
	switch in.Event {
	case protocol.EventJoinRoom:
		msg, err := protocol.Decode[protocol.JoinRoom](in.Data)
		if err != nil {
			return fmt.Errorf("decode join_room: %w", err)
		}
		return m.Join(connID, msg.RoomID)
	case protocol.EventUpdateState:
		msg, err := protocol.Decode[protocol.UpdateState](in.Data)
		if err != nil {
			return fmt.Errorf("decode update_state: %w", err)
		}
		return m.UpdateState(connID, msg)
	case protocol.EventChangeVideo:
		msg, err := protocol.Decode[protocol.ChangeVideo](in.Data)
		if err != nil {
			return fmt.Errorf("decode change_video: %w", err)
		}
		return m.ChangeVideo(connID, msg)
	case protocol.EventSendMessage:
		msg, err := protocol.Decode[protocol.SendMessage](in.Data)
		if err != nil {
			return fmt.Errorf("decode send_message: %w", err)
		}
		return m.SendMessage(ctx, connID, msg)
	}
	if m.relay.Handles(in.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.relay.Handle(view{m}, connID, in)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
}

func (m *Manager) Join(connID, roomID string) error {
	if roomID == "" {
		return protocol.ErrEmptyRoomID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[connID]; !ok {
		return ErrUnknownConn
	}

	if prev, ok := m.members.RoomOf(connID); ok && prev != roomID {
		m.leaveLocked(connID)
	}

	now := m.now()
	st, ok := m.store.Get(roomID)
	if !ok {
		st = m.store.Create(roomID, State{ReferenceWallTime: now})
		log.Info().Str("module", "rooms").Str("room", roomID).Msg("room created")
	}
	m.members.Add(roomID, connID)
	delete(m.emptyAt, roomID)

	m.sendTo(connID, protocol.Envelope{
		Event: protocol.EventReceiveState,
		Data:  st.push(st.PositionAt(now), now),
	})
	m.broadcastPresence(roomID)
	log.Info().Str("module", "rooms").Str("room", roomID).Str("sid", connID).
		Int("members", m.members.Count(roomID)).Msg("joined")
	return nil
}

// UpdateState records a play/pause/seek authored by connID and pushes it to
// the rest of the room with the authored position unchanged.
func (m *Manager) UpdateState(connID string, msg protocol.UpdateState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.store.Get(msg.RoomID)
	if !ok {
		return fmt.Errorf("update_state %q: %w", msg.RoomID, ErrRoomNotFound)
	}

	now := m.now()
	position := msg.TimestampAtLastAction
	if position < 0 {
		position = 0
	}
	st.ReferenceWallTime = now
	st.PositionAtReference = position
	st.IsPlaying = msg.IsPlaying
	if msg.VideoID != "" {
		st.VideoID = msg.VideoID
	}

	m.broadcast(msg.RoomID, connID, protocol.Envelope{
		Event: protocol.EventReceiveState,
		Data:  st.push(position, now),
	})
	return nil
}

// ChangeVideo loads a new video for everyone, the sender included. It is
// the only event allowed to create a room.
func (m *Manager) ChangeVideo(connID string, msg protocol.ChangeVideo) error {
	if msg.RoomID == "" {
		return protocol.ErrEmptyRoomID
	}
	if msg.VideoID == "" {
		return ErrEmptyVideoID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st, ok := m.store.Get(msg.RoomID)
	if !ok {
		st = m.store.Create(msg.RoomID, State{})
		log.Info().Str("module", "rooms").Str("room", msg.RoomID).Msg("room created by change_video")
		if m.members.Count(msg.RoomID) == 0 {
			m.markEmpty(msg.RoomID)
		}
	}
	st.VideoID = msg.VideoID
	st.IsPlaying = false
	st.PositionAtReference = 0
	st.ReferenceWallTime = now

	push := st.push(0, now)
	push.Title = msg.Title
	push.Channel = msg.Channel
	m.broadcast(msg.RoomID, "", protocol.Envelope{Event: protocol.EventReceiveState, Data: push})
	log.Info().Str("module", "rooms").Str("room", msg.RoomID).Str("sid", connID).
		Str("video", msg.VideoID).Msg("video changed")
	return nil
}

func (m *Manager) Leave(connID string) {
	m.mu.Lock()
	m.leaveLocked(connID)
	m.mu.Unlock()
}

func (m *Manager) leaveLocked(connID string) {
	roomID, remaining, ok := m.members.Remove(connID)
	if !ok {
		return
	}
	m.relay.Departed(view{m}, connID, roomID)
	m.broadcastPresence(roomID)
	log.Info().Str("module", "rooms").Str("room", roomID).Str("sid", connID).
		Int("members", remaining).Msg("left")
	if remaining == 0 {
		m.markEmpty(roomID)
	}
}

// SendMessage fans chat text out to the room, sender excluded.
func (m *Manager) SendMessage(ctx context.Context, connID string, msg protocol.SendMessage) error {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return ErrEmptyMessage
	}
	if m.maxMessageLen > 0 && utf8.RuneCountInString(text) > m.maxMessageLen {
		text = string([]rune(text)[:m.maxMessageLen])
	}
	if !m.hasRoom(msg.RoomID) {
		return fmt.Errorf("send_message %q: %w", msg.RoomID, ErrRoomNotFound)
	}
	// The limiter may call redis, so it runs without mu held.
	if m.limiter != nil && !m.limiter.Allow(ctx, connID) {
		return ErrRateLimited
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get(msg.RoomID); !ok {
		return fmt.Errorf("send_message %q: %w", msg.RoomID, ErrRoomNotFound)
	}
	m.broadcast(msg.RoomID, connID, protocol.Envelope{
		Event: protocol.EventReceiveMessage,
		Data: protocol.ReceiveMessage{
			Message:   text,
			SenderID:  shortID(connID),
			Timestamp: m.now(),
		},
	})
	return nil
}

func (m *Manager) hasRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store.Get(roomID)
	return ok
}

// Snapshot returns the room with its position extrapolated to now.
func (m *Manager) Snapshot(roomID string) (protocol.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.store.Get(roomID)
	if !ok {
		return protocol.RoomSnapshot{}, ErrRoomNotFound
	}
	now := m.now()
	return protocol.RoomSnapshot{
		RoomID:         roomID,
		VideoID:        st.VideoID,
		IsPlaying:      st.IsPlaying,
		CurrentSeconds: st.PositionAt(now),
		ServerTime:     now,
		Members:        m.members.Count(roomID),
	}, nil
}

type Stats struct {
	Rooms int `json:"rooms"`
	Users int `json:"totalUsers"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Rooms: m.store.Len(), Users: m.members.Total()}
}
