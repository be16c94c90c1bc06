// Package syncclient keeps a local media player converged on the room state
// pushed by the server without echoing its own side effects back.
package syncclient

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"hum/internal/playhead"
	"hum/internal/protocol"
)

var (
	ErrNoTrack      = errors.New("no track to select")
	ErrNotJoined    = errors.New("not in a room")
	ErrEmptyMessage = errors.New("empty message")
)

// Player is the local media engine. Engine callbacks (play, pause, seek)
// must be reported back through Reconciler.Observe; they may fire
// synchronously from inside Seek or SetPlaying.
//
// Ready must report false from the moment Load is called until the new
// video can seek, and the host must call Reconciler.PlayerReady when it
// becomes ready again. A state push that arrives in between is held until
// then, so a player that never calls PlayerReady after Load leaves it
// unapplied.
type Player interface {
	Ready() bool
	CurrentTime() float64
	// Duration returns 0 while unknown.
	Duration() float64
	Seek(seconds float64)
	SetPlaying(playing bool)
	Load(videoID string)
}

type Sender interface {
	Send(envelope protocol.Envelope) error
}

type Config struct {
	DriftThreshold  float64
	DriftCooldown   time.Duration
	EchoWindow      time.Duration
	MinEmitInterval time.Duration
	MessageTTL      time.Duration
	MaxMessageLen   int
}

func DefaultConfig() Config {
	return Config{
		DriftThreshold:  0.5,
		DriftCooldown:   2 * time.Second,
		EchoWindow:      400 * time.Millisecond,
		MinEmitInterval: 100 * time.Millisecond,
		MessageTTL:      5 * time.Second,
		MaxMessageLen:   100,
	}
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseSynced
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseSynced:
		return "synced"
	default:
		return "idle"
	}
}

// PendingSync is a state push that arrived before the player could seek.
type PendingSync struct {
	Target     float64
	Playing    bool
	ReceivedAt time.Time
	Generation uint64
}

// effects are player calls and outbound envelopes computed under the lock
// and executed after it is released.
type effects struct {
	generation uint64
	load       string
	playing    *bool
	seek       *float64
	out        []protocol.Envelope
}

type Reconciler struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	player Player
	sender Sender

	phase   Phase
	selfID  string
	roomID  string
	videoID string
	title   string
	channel string
	playing bool
	members int

	suppressUntil      time.Time
	generation         uint64
	lastEmit           time.Time
	queued             *protocol.UpdateState
	driftCooldownUntil time.Time
	pending            *PendingSync

	history  *History
	inbox    *Inbox
	onSearch func()
	onVoice  func(protocol.InboundEnvelope)
}

type Option func(*Reconciler)

func WithClock(c clock.Clock) Option { return func(r *Reconciler) { r.clock = c } }

func WithConfig(cfg Config) Option { return func(r *Reconciler) { r.cfg = cfg } }

// WithSearchHandler is called when Next runs past the end of the history.
func WithSearchHandler(fn func()) Option { return func(r *Reconciler) { r.onSearch = fn } }

// WithVoiceHandler receives every voice:* event.
func WithVoiceHandler(fn func(protocol.InboundEnvelope)) Option {
	return func(r *Reconciler) { r.onVoice = fn }
}

func New(player Player, sender Sender, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:     DefaultConfig(),
		player:  player,
		sender:  sender,
		history: NewHistory(50),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	r.inbox = NewInbox(r.cfg.MessageTTL)
	return r
}

func (r *Reconciler) Join(roomID string) error {
	if roomID == "" {
		return protocol.ErrEmptyRoomID
	}
	r.mu.Lock()
	r.phase = PhaseJoining
	r.roomID = roomID
	r.mu.Unlock()
	return r.sender.Send(protocol.Envelope{
		Event: protocol.EventJoinRoom,
		Data:  protocol.JoinRoom{RoomID: roomID},
	})
}

// HandleEnvelope applies one server event.
func (r *Reconciler) HandleEnvelope(in protocol.InboundEnvelope) error {
	switch in.Event {
	case protocol.EventWelcome:
		w, err := protocol.Decode[protocol.Welcome](in.Data)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.selfID = w.ConnectionID
		r.mu.Unlock()
	case protocol.EventReceiveState:
		push, err := protocol.Decode[protocol.StatePush](in.Data)
		if err != nil {
			return err
		}
		r.ApplyState(push)
	case protocol.EventUserCountUpdate:
		uc, err := protocol.Decode[protocol.UserCount](in.Data)
		if err != nil {
			return err
		}
		r.mu.Lock()
		if uc.RoomID == r.roomID {
			r.members = uc.Count
		}
		r.mu.Unlock()
	case protocol.EventReceiveMessage:
		msg, err := protocol.Decode[protocol.ReceiveMessage](in.Data)
		if err != nil {
			return err
		}
		r.inbox.Add(msg, r.clock.Now())
	case protocol.EventVoiceUserEnabled, protocol.EventVoiceUserDisabled,
		protocol.EventVoiceOffer, protocol.EventVoiceAnswer, protocol.EventVoiceICECandidate:
		if r.onVoice != nil {
			r.onVoice(in)
		}
	default:
		log.Debug().Str("module", "syncclient").Str("event", in.Event).Msg("ignored event")
	}
	return nil
}

// ApplyState reconciles the player with a receive_state push.
func (r *Reconciler) ApplyState(push protocol.StatePush) {
	r.mu.Lock()
	now := r.clock.Now()
	r.generation++
	r.suppressUntil = now.Add(r.cfg.EchoWindow)
	r.queued = nil
	if r.phase == PhaseJoining {
		r.phase = PhaseSynced
	}

	eff := effects{generation: r.generation}
	if push.VideoID != r.videoID {
		r.videoID = push.VideoID
		r.title, r.channel = "", ""
		if push.VideoID != "" {
			eff.load = push.VideoID
		}
	}
	if push.Title != "" {
		r.title = push.Title
	}
	if push.Channel != "" {
		r.channel = push.Channel
	}
	if r.videoID != "" {
		r.history.Visit(Track{ID: r.videoID, Title: r.title, Channel: r.channel})
	}
	r.playing = push.IsPlaying

	if eff.load != "" || !r.player.Ready() {
		r.pending = &PendingSync{
			Target:     push.CurrentSeconds,
			Playing:    push.IsPlaying,
			ReceivedAt: now,
			Generation: r.generation,
		}
		r.mu.Unlock()
		r.run(eff)
		return
	}
	r.pending = nil
	playing := push.IsPlaying
	eff.playing = &playing
	r.correctDrift(now, push.CurrentSeconds, &eff, false)
	r.mu.Unlock()
	r.run(eff)
}

// PlayerReady applies a stashed PendingSync once the player can seek. A
// pending target that was playing is aged by the time spent waiting.
func (r *Reconciler) PlayerReady() {
	r.mu.Lock()
	p := r.pending
	if p == nil {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.queued = nil
	now := r.clock.Now()
	r.generation++
	if until := now.Add(r.cfg.EchoWindow); until.After(r.suppressUntil) {
		r.suppressUntil = until
	}

	target := playhead.At(playhead.Anchor{
		Position: p.Target,
		WallTime: p.ReceivedAt.UnixMilli(),
		Playing:  p.Playing,
	}, now)
	playing := p.Playing
	eff := effects{generation: r.generation, playing: &playing}
	r.correctDrift(now, target, &eff, true)
	r.mu.Unlock()

	log.Debug().Str("module", "syncclient").Float64("target", target).Uint64("gen", p.Generation).Msg("applied pending sync")
	r.run(eff)
}

// correctDrift seeks when the player is further than the threshold from
// target and, unless force is set, no correction happened within the
// cooldown. Caller holds mu.
func (r *Reconciler) correctDrift(now time.Time, target float64, eff *effects, force bool) {
	target = playhead.Clamp(target, r.player.Duration())
	drift := math.Abs(r.player.CurrentTime() - target)
	if drift <= r.cfg.DriftThreshold {
		return
	}
	if !force && now.Before(r.driftCooldownUntil) {
		log.Debug().Str("module", "syncclient").Float64("drift", drift).Msg("drift correction cooling down")
		return
	}
	eff.seek = &target
	r.driftCooldownUntil = now.Add(r.cfg.DriftCooldown)
}

func (r *Reconciler) run(eff effects) {
	if eff.generation != 0 {
		r.mu.Lock()
		stale := eff.generation != r.generation
		r.mu.Unlock()
		if stale {
			return
		}
	}
	if eff.load != "" {
		r.player.Load(eff.load)
	}
	if eff.playing != nil {
		r.player.SetPlaying(*eff.playing)
	}
	if eff.seek != nil {
		r.player.Seek(*eff.seek)
	}
	for _, env := range eff.out {
		if err := r.sender.Send(env); err != nil {
			log.Warn().Err(err).Str("module", "syncclient").Str("event", env.Event).Msg("send failed")
		}
	}
}

// Suppressed reports whether player callbacks are currently treated as
// side effects of an applied push.
func (r *Reconciler) Suppressed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Now().Before(r.suppressUntil)
}

// Observe classifies a player callback. Remote-originated events are
// dropped; user-originated ones update local state and, once the room state
// has been received, are sent upstream at most once per MinEmitInterval. A
// throttled event is kept and sent by Tick unless a push replaces it first.
func (r *Reconciler) Observe(ev MediaEvent) Origin {
	r.mu.Lock()
	now := r.clock.Now()
	if now.Before(r.suppressUntil) {
		r.mu.Unlock()
		log.Debug().Str("module", "syncclient").Str("kind", ev.Kind.String()).Msg("echo suppressed")
		return OriginRemote
	}

	switch ev.Kind {
	case MediaPlay:
		r.playing = true
	case MediaPause:
		r.playing = false
	}
	if r.roomID == "" || r.phase != PhaseSynced {
		r.mu.Unlock()
		return OriginUser
	}

	msg := protocol.UpdateState{
		RoomID:                r.roomID,
		VideoID:               r.videoID,
		IsPlaying:             r.playing,
		TimestampAtLastAction: ev.Position,
	}
	var eff effects
	if !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.cfg.MinEmitInterval {
		r.queued = &msg
	} else {
		r.queued = nil
		r.lastEmit = now
		eff.out = append(eff.out, protocol.Envelope{Event: protocol.EventUpdateState, Data: msg})
	}
	r.mu.Unlock()
	r.run(eff)
	return OriginUser
}

// Tick flushes a throttled update and expires old messages. Hosts call it
// periodically.
func (r *Reconciler) Tick() {
	r.mu.Lock()
	now := r.clock.Now()
	var eff effects
	if r.queued != nil && !now.Before(r.suppressUntil) && now.Sub(r.lastEmit) >= r.cfg.MinEmitInterval {
		eff.out = append(eff.out, protocol.Envelope{Event: protocol.EventUpdateState, Data: *r.queued})
		r.queued = nil
		r.lastEmit = now
	}
	r.mu.Unlock()
	r.inbox.Prune(now)
	r.run(eff)
}

// Play, Pause and SeekTo drive the player as a user would; the resulting
// callbacks reach Observe and are sent from there.
func (r *Reconciler) Play()  { r.player.SetPlaying(true) }
func (r *Reconciler) Pause() { r.player.SetPlaying(false) }

func (r *Reconciler) SeekTo(seconds float64) {
	r.player.Seek(playhead.Clamp(seconds, r.player.Duration()))
}

func (r *Reconciler) TogglePlay() {
	r.mu.Lock()
	playing := r.playing
	r.mu.Unlock()
	r.player.SetPlaying(!playing)
}

// SelectTrack asks the room to load videoID. Local state changes only when
// the server echoes the change back.
func (r *Reconciler) SelectTrack(t Track) error {
	if t.ID == "" {
		return ErrNoTrack
	}
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == "" {
		return ErrNotJoined
	}
	return r.sender.Send(protocol.Envelope{
		Event: protocol.EventChangeVideo,
		Data: protocol.ChangeVideo{
			RoomID:  roomID,
			VideoID: t.ID,
			Title:   t.Title,
			Channel: t.Channel,
		},
	})
}

func (r *Reconciler) Previous() error {
	r.mu.Lock()
	t, ok := r.history.Back()
	r.mu.Unlock()
	if !ok {
		return ErrNoTrack
	}
	return r.selectStep(t, (*History).Forward)
}

// Next moves forward in the history. Past the end it opens search instead
// of emitting anything.
func (r *Reconciler) Next() error {
	r.mu.Lock()
	t, ok := r.history.Forward()
	r.mu.Unlock()
	if !ok {
		if r.onSearch != nil {
			r.onSearch()
		}
		return nil
	}
	return r.selectStep(t, (*History).Back)
}

// selectStep requests t after the cursor has moved to it, and moves the
// cursor back with undo when the request could not be sent.
func (r *Reconciler) selectStep(t Track, undo func(*History) (Track, bool)) error {
	err := r.SelectTrack(t)
	if err == nil {
		return nil
	}
	r.mu.Lock()
	if cur, ok := r.history.Current(); ok && cur == t {
		undo(r.history)
	}
	r.mu.Unlock()
	return err
}

func (r *Reconciler) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if limit := r.cfg.MaxMessageLen; limit > 0 && utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	r.mu.Lock()
	roomID, selfID := r.roomID, r.selfID
	r.mu.Unlock()
	if roomID == "" {
		return ErrNotJoined
	}
	if err := r.sender.Send(protocol.Envelope{
		Event: protocol.EventSendMessage,
		Data:  protocol.SendMessage{RoomID: roomID, Message: text},
	}); err != nil {
		return err
	}
	now := r.clock.Now()
	r.inbox.Add(protocol.ReceiveMessage{Message: text, SenderID: shortID(selfID), Timestamp: now.UnixMilli()}, now)
	return nil
}

// View is a read-only snapshot for rendering.
type View struct {
	Phase      Phase
	SelfID     string
	RoomID     string
	VideoID    string
	Title      string
	Channel    string
	Playing    bool
	Position   float64
	Members    int
	Suppressed bool
	Pending    bool
	Messages   []Message
}

func (r *Reconciler) View() View {
	r.mu.Lock()
	now := r.clock.Now()
	v := View{
		Phase:      r.phase,
		SelfID:     r.selfID,
		RoomID:     r.roomID,
		VideoID:    r.videoID,
		Title:      r.title,
		Channel:    r.channel,
		Playing:    r.playing,
		Members:    r.members,
		Suppressed: now.Before(r.suppressUntil),
		Pending:    r.pending != nil,
	}
	r.mu.Unlock()
	v.Position = r.player.CurrentTime()
	v.Messages = r.inbox.Active(now)
	return v
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}
