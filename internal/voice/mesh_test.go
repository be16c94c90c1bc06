package voice

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"hum/internal/protocol"
)

type fakePeer struct {
	remoteID    string
	onCandidate func(json.RawMessage)
	onFailed    func()

	offers     int
	answers    []json.RawMessage
	candidates []json.RawMessage
	closed     bool
	failOffer  bool
}

func (p *fakePeer) CreateOffer() (json.RawMessage, error) {
	if p.failOffer {
		return nil, errors.New("boom")
	}
	p.offers++
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (p *fakePeer) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (p *fakePeer) ApplyAnswer(a json.RawMessage) error {
	p.answers = append(p.answers, a)
	return nil
}

func (p *fakePeer) AddICECandidate(c json.RawMessage) error {
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (s *fakeSender) Send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSender) last() protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type meshRig struct {
	mesh   *Mesh
	sender *fakeSender
	peers  map[string]*fakePeer
	failOn string
}

func newMeshRig(t *testing.T) *meshRig {
	t.Helper()
	rig := &meshRig{sender: &fakeSender{}, peers: make(map[string]*fakePeer)}
	factory := func(remoteID string, onCandidate func(json.RawMessage), onFailed func()) (Peer, error) {
		p := &fakePeer{remoteID: remoteID, onCandidate: onCandidate, onFailed: onFailed, failOffer: remoteID == rig.failOn}
		rig.peers[remoteID] = p
		return p, nil
	}
	rig.mesh = NewMesh(factory, rig.sender)
	return rig
}

func userEvent(event, id string) protocol.InboundEnvelope {
	data, _ := json.Marshal(protocol.VoiceUser{UserID: id})
	return protocol.InboundEnvelope{Event: event, Data: data}
}

func relayed(event, sender, payload string) protocol.InboundEnvelope {
	data, _ := json.Marshal(protocol.VoiceRelayed{SenderID: sender, Payload: json.RawMessage(payload)})
	return protocol.InboundEnvelope{Event: event, Data: data}
}

// TestEnableAnnounces 测试开启语音时广播 voice:enabled
func TestEnableAnnounces(t *testing.T) {
	rig := newMeshRig(t)
	if err := rig.mesh.Enable(""); !errors.Is(err, protocol.ErrEmptyRoomID) {
		t.Fatalf("expected ErrEmptyRoomID, got %v", err)
	}
	if err := rig.mesh.Enable("alpha"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	env := rig.sender.last()
	if env.Event != protocol.EventVoiceEnabled {
		t.Fatalf("expected voice:enabled, got %s", env.Event)
	}
	if tog := env.Data.(protocol.VoiceToggle); tog.RoomID != "alpha" {
		t.Errorf("unexpected room %q", tog.RoomID)
	}
	if !rig.mesh.Enabled() {
		t.Error("mesh should be enabled")
	}
}

// TestUserEnabledCreatesOffer 测试其他成员开启语音时发起 offer，且不重复建立
func TestUserEnabledCreatesOffer(t *testing.T) {
	rig := newMeshRig(t)
	rig.mesh.Enable("alpha")

	if err := rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	env := rig.sender.last()
	if env.Event != protocol.EventVoiceOffer {
		t.Fatalf("expected offer, got %s", env.Event)
	}
	sig := env.Data.(protocol.VoiceSignal)
	if sig.TargetID != "bob" || sig.RoomID != "alpha" {
		t.Errorf("unexpected signal %+v", sig)
	}

	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob"))
	if rig.peers["bob"].offers != 1 {
		t.Errorf("expected a single offer, got %d", rig.peers["bob"].offers)
	}
	if got := rig.mesh.Peers(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("unexpected peers %v", got)
	}
}

// TestOfferAnswered 测试收到 offer 后回复 answer，重复 offer 被忽略
func TestOfferAnswered(t *testing.T) {
	rig := newMeshRig(t)
	rig.mesh.Enable("alpha")

	if err := rig.mesh.Handle(relayed(protocol.EventVoiceOffer, "carol", `{"type":"offer"}`)); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	env := rig.sender.last()
	if env.Event != protocol.EventVoiceAnswer {
		t.Fatalf("expected answer, got %s", env.Event)
	}
	if sig := env.Data.(protocol.VoiceSignal); sig.TargetID != "carol" {
		t.Errorf("answer should target carol, got %+v", sig)
	}

	count := len(rig.sender.sent)
	rig.mesh.Handle(relayed(protocol.EventVoiceOffer, "carol", `{"type":"offer"}`))
	if len(rig.sender.sent) != count {
		t.Error("duplicate offer should not be answered")
	}
}

// TestAnswerAndCandidate 测试 answer 与 ICE candidate 交给对应 peer
func TestAnswerAndCandidate(t *testing.T) {
	rig := newMeshRig(t)
	rig.mesh.Enable("alpha")
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob"))

	if err := rig.mesh.Handle(relayed(protocol.EventVoiceAnswer, "bob", `{"type":"answer"}`)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := rig.mesh.Handle(relayed(protocol.EventVoiceICECandidate, "bob", `{"candidate":"c1"}`)); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	p := rig.peers["bob"]
	if len(p.answers) != 1 || len(p.candidates) != 1 {
		t.Errorf("unexpected peer calls answers=%d candidates=%d", len(p.answers), len(p.candidates))
	}

	err := rig.mesh.Handle(relayed(protocol.EventVoiceICECandidate, "ghost", `{}`))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}

// TestLocalCandidateForwarded 测试本地 candidate 发往对端
func TestLocalCandidateForwarded(t *testing.T) {
	rig := newMeshRig(t)
	rig.mesh.Enable("alpha")
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob"))

	rig.peers["bob"].onCandidate(json.RawMessage(`{"candidate":"local"}`))
	env := rig.sender.last()
	if env.Event != protocol.EventVoiceICECandidate {
		t.Fatalf("expected candidate, got %s", env.Event)
	}
	if sig := env.Data.(protocol.VoiceSignal); sig.TargetID != "bob" || string(sig.Payload) != `{"candidate":"local"}` {
		t.Errorf("unexpected signal %+v", sig)
	}
}

// TestTeardown 测试成员关闭语音或连接失败时拆除 peer
func TestTeardown(t *testing.T) {
	rig := newMeshRig(t)
	rig.mesh.Enable("alpha")
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob"))
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "dave"))

	rig.mesh.Handle(userEvent(protocol.EventVoiceUserDisabled, "bob"))
	if !rig.peers["bob"].closed {
		t.Error("bob's peer should be closed")
	}

	dave := rig.peers["dave"]
	dave.onFailed()
	if !dave.closed {
		t.Error("failed peer should be closed")
	}
	if got := rig.mesh.Peers(); len(got) != 0 {
		t.Errorf("expected no peers, got %v", got)
	}

	// a failed peer can be negotiated again
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "dave"))
	if rig.peers["dave"] == dave {
		t.Fatal("expected a fresh peer")
	}
	dave.onFailed()
	if rig.peers["dave"].closed {
		t.Error("stale failure must not close the replacement peer")
	}
}

// TestOfferFailure 测试创建 offer 失败时清理 peer
func TestOfferFailure(t *testing.T) {
	rig := newMeshRig(t)
	rig.failOn = "eve"
	rig.mesh.Enable("alpha")
	if err := rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "eve")); err == nil {
		t.Fatal("expected error")
	}
	if !rig.peers["eve"].closed || len(rig.mesh.Peers()) != 0 {
		t.Error("failed peer should be removed")
	}
}

// TestDisabled 测试关闭语音后拒绝信令并关闭所有 peer
func TestDisabled(t *testing.T) {
	rig := newMeshRig(t)
	if err := rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if err := rig.mesh.Disable(); err != nil || len(rig.sender.sent) != 0 {
		t.Fatalf("disable while off should be a no-op, err=%v", err)
	}

	rig.mesh.Enable("alpha")
	rig.mesh.Handle(userEvent(protocol.EventVoiceUserEnabled, "bob"))
	if err := rig.mesh.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !rig.peers["bob"].closed {
		t.Error("peers should be closed on disable")
	}
	if env := rig.sender.last(); env.Event != protocol.EventVoiceDisabled {
		t.Errorf("expected voice:disabled, got %s", env.Event)
	}
	err := rig.mesh.Handle(relayed(protocol.EventVoiceOffer, "carol", `{}`))
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

// TestPionNegotiation 测试两个 pion peer 完成 offer/answer 交换
func TestPionNegotiation(t *testing.T) {
	factory := NewPionFactory(webrtc.Configuration{})
	a, err := factory("b", nil, nil)
	if err != nil {
		t.Fatalf("peer a: %v", err)
	}
	defer a.Close()
	b, err := factory("a", nil, nil)
	if err != nil {
		t.Fatalf("peer b: %v", err)
	}
	defer b.Close()

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	answer, err := b.AcceptOffer(offer)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := a.ApplyAnswer(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}

	var sd webrtc.SessionDescription
	if err := json.Unmarshal(answer, &sd); err != nil || sd.Type != webrtc.SDPTypeAnswer {
		t.Errorf("unexpected answer %s (%v)", answer, err)
	}
}
