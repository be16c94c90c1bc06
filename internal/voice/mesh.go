// Package voice keeps one WebRTC peer per remote room member that has voice
// enabled. The server only relays; dedup and teardown happen here.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"hum/internal/protocol"
)

var (
	ErrDisabled    = errors.New("voice is disabled")
	ErrUnknownPeer = errors.New("no peer for sender")
)

// Peer is one negotiated connection. Descriptions and candidates are the
// JSON forms exchanged through the relay.
type Peer interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (answer json.RawMessage, err error)
	ApplyAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

// PeerFactory creates the peer for remoteID. onCandidate receives local ICE
// candidates and onFailed is called once the connection fails; neither may
// be called synchronously from the factory.
type PeerFactory func(remoteID string, onCandidate func(json.RawMessage), onFailed func()) (Peer, error)

type Sender interface {
	Send(envelope protocol.Envelope) error
}

type Mesh struct {
	mu      sync.Mutex
	factory PeerFactory
	sender  Sender
	roomID  string
	enabled bool
	peers   map[string]Peer
}

func NewMesh(factory PeerFactory, sender Sender) *Mesh {
	return &Mesh{factory: factory, sender: sender, peers: make(map[string]Peer)}
}

// Enable announces this client to the room. Members that already have
// voice on respond with offers.
func (m *Mesh) Enable(roomID string) error {
	if roomID == "" {
		return protocol.ErrEmptyRoomID
	}
	m.mu.Lock()
	m.roomID = roomID
	m.enabled = true
	m.mu.Unlock()
	return m.sender.Send(protocol.Envelope{
		Event: protocol.EventVoiceEnabled,
		Data:  protocol.VoiceToggle{RoomID: roomID},
	})
}

func (m *Mesh) Disable() error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = false
	roomID := m.roomID
	peers := m.peers
	m.peers = make(map[string]Peer)
	m.mu.Unlock()

	for id, p := range peers {
		closePeer(id, p)
	}
	return m.sender.Send(protocol.Envelope{
		Event: protocol.EventVoiceDisabled,
		Data:  protocol.VoiceToggle{RoomID: roomID},
	})
}

func (m *Mesh) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Peers returns the connected remote ids in order.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Handle applies one voice event received from the server.
func (m *Mesh) Handle(in protocol.InboundEnvelope) error {
	switch in.Event {
	case protocol.EventVoiceUserEnabled:
		u, err := protocol.Decode[protocol.VoiceUser](in.Data)
		if err != nil {
			return err
		}
		return m.offerTo(u.UserID)
	case protocol.EventVoiceUserDisabled:
		u, err := protocol.Decode[protocol.VoiceUser](in.Data)
		if err != nil {
			return err
		}
		m.drop(u.UserID, nil)
		return nil
	}

	sig, err := protocol.Decode[protocol.VoiceRelayed](in.Data)
	if err != nil {
		return err
	}
	switch in.Event {
	case protocol.EventVoiceOffer:
		return m.answer(sig.SenderID, sig.Payload)
	case protocol.EventVoiceAnswer:
		p, err := m.peer(sig.SenderID)
		if err != nil {
			return err
		}
		return p.ApplyAnswer(sig.Payload)
	case protocol.EventVoiceICECandidate:
		p, err := m.peer(sig.SenderID)
		if err != nil {
			return err
		}
		return p.AddICECandidate(sig.Payload)
	}
	return fmt.Errorf("unexpected voice event %q", in.Event)
}

func (m *Mesh) peer(id string) (Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownPeer, id)
	}
	return p, nil
}

// offerTo starts negotiation with a member that just enabled voice. A peer
// that already exists makes this a no-op.
func (m *Mesh) offerTo(remoteID string) error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return ErrDisabled
	}
	if _, ok := m.peers[remoteID]; ok {
		m.mu.Unlock()
		return nil
	}
	p, err := m.newPeer(remoteID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	offer, err := p.CreateOffer()
	if err != nil {
		delete(m.peers, remoteID)
		m.mu.Unlock()
		closePeer(remoteID, p)
		return fmt.Errorf("create offer for %s: %w", remoteID, err)
	}
	roomID := m.roomID
	m.mu.Unlock()

	return m.sender.Send(protocol.Envelope{
		Event: protocol.EventVoiceOffer,
		Data:  protocol.VoiceSignal{RoomID: roomID, TargetID: remoteID, Payload: offer},
	})
}

// answer accepts an offer from remoteID unless a peer for it exists.
func (m *Mesh) answer(remoteID string, offer json.RawMessage) error {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return ErrDisabled
	}
	if _, ok := m.peers[remoteID]; ok {
		m.mu.Unlock()
		log.Debug().Str("module", "voice").Str("peer", remoteID).Msg("duplicate offer ignored")
		return nil
	}
	p, err := m.newPeer(remoteID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	ans, err := p.AcceptOffer(offer)
	if err != nil {
		delete(m.peers, remoteID)
		m.mu.Unlock()
		closePeer(remoteID, p)
		return fmt.Errorf("answer %s: %w", remoteID, err)
	}
	roomID := m.roomID
	m.mu.Unlock()

	return m.sender.Send(protocol.Envelope{
		Event: protocol.EventVoiceAnswer,
		Data:  protocol.VoiceSignal{RoomID: roomID, TargetID: remoteID, Payload: ans},
	})
}

// newPeer registers a fresh peer for remoteID. Caller holds mu.
func (m *Mesh) newPeer(remoteID string) (Peer, error) {
	roomID := m.roomID
	var p Peer
	onCandidate := func(c json.RawMessage) {
		err := m.sender.Send(protocol.Envelope{
			Event: protocol.EventVoiceICECandidate,
			Data:  protocol.VoiceSignal{RoomID: roomID, TargetID: remoteID, Payload: c},
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "voice").Str("peer", remoteID).Msg("send candidate")
		}
	}
	onFailed := func() {
		log.Info().Str("module", "voice").Str("peer", remoteID).Msg("peer failed, tearing down")
		m.drop(remoteID, p)
	}
	p, err := m.factory(remoteID, onCandidate, onFailed)
	if err != nil {
		return nil, fmt.Errorf("new peer %s: %w", remoteID, err)
	}
	m.peers[remoteID] = p
	return p, nil
}

// drop closes the peer for remoteID. When only is set, a newer peer that
// replaced it is left alone.
func (m *Mesh) drop(remoteID string, only Peer) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	if !ok || (only != nil && p != only) {
		m.mu.Unlock()
		return
	}
	delete(m.peers, remoteID)
	m.mu.Unlock()
	closePeer(remoteID, p)
}

func closePeer(remoteID string, p Peer) {
	if err := p.Close(); err != nil {
		log.Warn().Err(err).Str("module", "voice").Str("peer", remoteID).Msg("close peer")
	}
}
