package syncclient

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"hum/internal/playhead"
)

// SimulatedPlayer is a headless Player driven by a clock. It reports its
// own callbacks synchronously, as a browser media element would.
type SimulatedPlayer struct {
	mu        sync.Mutex
	clock     clock.Clock
	loadDelay time.Duration
	duration  float64

	ready   bool
	videoID string
	anchor  playhead.Anchor
	loadSeq uint64
	onEvent func(MediaEvent)
	onReady func()
}

// NewSimulatedPlayer returns a player that becomes ready loadDelay after
// each Load. A zero delay makes Load ready immediately.
func NewSimulatedPlayer(clk clock.Clock, loadDelay time.Duration, duration float64) *SimulatedPlayer {
	if clk == nil {
		clk = clock.New()
	}
	return &SimulatedPlayer{clock: clk, loadDelay: loadDelay, duration: duration}
}

// Bind connects the player callbacks to r.
func (p *SimulatedPlayer) Bind(r *Reconciler) {
	p.mu.Lock()
	p.onEvent = func(ev MediaEvent) { r.Observe(ev) }
	p.onReady = r.PlayerReady
	p.mu.Unlock()
}

func (p *SimulatedPlayer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *SimulatedPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *SimulatedPlayer) position() float64 {
	return playhead.Clamp(playhead.At(p.anchor, p.clock.Now()), p.duration)
}

func (p *SimulatedPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videoID == "" {
		return 0
	}
	return p.duration
}

func (p *SimulatedPlayer) VideoID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoID
}

func (p *SimulatedPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anchor.Playing
}

func (p *SimulatedPlayer) Seek(seconds float64) {
	p.mu.Lock()
	p.anchor = playhead.Anchor{
		Position: playhead.Clamp(seconds, p.duration),
		WallTime: p.clock.Now().UnixMilli(),
		Playing:  p.anchor.Playing,
	}
	ev := MediaEvent{Kind: MediaSeek, Position: p.anchor.Position}
	fn := p.onEvent
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *SimulatedPlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	if p.anchor.Playing == playing {
		p.mu.Unlock()
		return
	}
	p.anchor = playhead.Anchor{
		Position: p.position(),
		WallTime: p.clock.Now().UnixMilli(),
		Playing:  playing,
	}
	kind := MediaPause
	if playing {
		kind = MediaPlay
	}
	ev := MediaEvent{Kind: kind, Position: p.anchor.Position}
	fn := p.onEvent
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *SimulatedPlayer) Load(videoID string) {
	p.mu.Lock()
	p.videoID = videoID
	p.ready = false
	p.anchor = playhead.Anchor{WallTime: p.clock.Now().UnixMilli()}
	p.loadSeq++
	seq := p.loadSeq
	delay := p.loadDelay
	p.mu.Unlock()

	if delay <= 0 {
		p.markReady(seq)
		return
	}
	p.clock.AfterFunc(delay, func() { p.markReady(seq) })
}

// markReady ignores a load that was superseded by a later one.
func (p *SimulatedPlayer) markReady(seq uint64) {
	p.mu.Lock()
	if seq != p.loadSeq {
		p.mu.Unlock()
		return
	}
	p.ready = true
	fn := p.onReady
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
