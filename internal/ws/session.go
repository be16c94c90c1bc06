package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hum/internal/protocol"
	"hum/internal/rooms"
)

// Socket is the part of a websocket connection a Session drives. Both
// gorilla and hertz-contrib connections satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dispatcher receives the lifecycle and inbound events of every session.
type Dispatcher interface {
	Connect(c rooms.Conn)
	Dispatch(ctx context.Context, connID string, in protocol.InboundEnvelope)
	Disconnect(connID string)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  64 * 1024,
		PingPeriod: 54 * time.Second,
		WriteWait:  5 * time.Second,
		SendBuffer: 32,
	}
}

// Session is one client connection. Outbound envelopes are queued on a
// buffered channel owned by the write pump and dropped when it is full.
type Session struct {
	id     string
	socket Socket
	opts   Options
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewSession(socket Socket, opts Options) *Session {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultOptions().PingPeriod
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultOptions().WriteWait
	}
	return &Session{
		id:     uuid.NewString(),
		socket: socket,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Send(envelope protocol.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("event", envelope.Event).Msg("marshal envelope")
		return
	}
	select {
	case <-s.done:
	case s.send <- data:
	default:
		log.Warn().Str("module", "ws").Str("sid", s.id).Str("event", envelope.Event).Msg("send buffer full, dropping")
	}
}

func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.socket.Close()
	})
}

// Serve registers the session with d and pumps messages until the socket
// fails or ctx is done. It always ends with d.Disconnect.
func (s *Session) Serve(ctx context.Context, d Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.Connect(s)
	go s.writePump(ctx)
	s.readPump(ctx, d)
	s.Close()
	d.Disconnect(s.id)
}

func (s *Session) pongWait() time.Duration {
	return s.opts.PingPeriod * 10 / 9
}

func (s *Session) readPump(ctx context.Context, d Dispatcher) {
	if s.opts.ReadLimit > 0 {
		s.socket.SetReadLimit(s.opts.ReadLimit)
	}
	_ = s.socket.SetReadDeadline(time.Now().Add(s.pongWait()))
	s.socket.SetPongHandler(func(string) error {
		return s.socket.SetReadDeadline(time.Now().Add(s.pongWait()))
	})

	for {
		msgType, data, err := s.socket.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "ws").Str("sid", s.id).Msg("readPump closing")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var in protocol.InboundEnvelope
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("sid", s.id).Msg("bad json")
			continue
		}
		d.Dispatch(ctx, s.id, in)
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("sid", s.id).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
