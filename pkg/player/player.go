// Package player runs one playback session: it owns a media engine, turns
// the engine's callbacks into an ordered event stream, and exposes the
// commands a host issues against the session.
package player

import (
	stderrors "errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/errors"
	"github.com/go-drift/videoplayer/pkg/event"
	"github.com/go-drift/videoplayer/pkg/source"
	"github.com/go-drift/videoplayer/pkg/tracks"
)

// ErrDisposed is returned by every command issued after Dispose.
var ErrDisposed = stderrors.New("player: disposed")

// eventBuffer bounds how many engine callbacks may wait for the loop.
const eventBuffer = 64

// Options configure a new Player.
type Options struct {
	// ID identifies the session, usually the host texture id.
	ID int64
	// Channel names the session's event stream in logs and error reports.
	Channel string

	URI        string
	FormatHint mo.Option[string]
	Headers    map[string]string

	Resolver source.Resolver
	Factory  engine.Factory
	// Surface is the rendering target; it is released on Dispose.
	Surface engine.Surface
	// MixWithOthers disables audio focus handling.
	MixWithOthers bool

	Logger logrus.FieldLogger
	// OnDisposed, when set, receives a summary of the session as it ends.
	OnDisposed func(Summary)
}

// Summary describes a session at the moment it was disposed.
type Summary struct {
	ID         int64
	URI        string
	PositionMs int64
	DurationMs int64
	Completed  bool
}

// Player is a single playback session.
//
// Engine callbacks and host commands are serialized onto one goroutine, so
// the state machine and the engine are only ever touched by that goroutine.
// All methods are safe for concurrent use.
type Player struct {
	id      int64
	uri     string
	eng     engine.Engine
	surface engine.Surface
	queue   *event.Queue
	machine *machine
	logger  logrus.FieldLogger

	onDisposed func(Summary)

	events   chan engineEvent
	commands chan command
	done     chan struct{}
}

type command struct {
	fn    func()
	reply chan struct{}
}

// New resolves the source, constructs and prepares the engine, and starts the
// session loop. A source that cannot be classified fails with an error
// wrapping source.ErrUnsupportedFormat.
func New(opts Options) (*Player, error) {
	if opts.Factory == nil {
		return nil, stderrors.New("player: no engine factory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("player", opts.ID)

	desc, err := opts.Resolver.Resolve(opts.URI, opts.FormatHint, opts.Headers)
	if err != nil {
		return nil, err
	}
	eng, err := opts.Factory(desc)
	if err != nil {
		return nil, fmt.Errorf("player: create engine: %w", err)
	}

	p := &Player{
		id:         opts.ID,
		uri:        opts.URI,
		eng:        eng,
		surface:    opts.Surface,
		queue:      event.NewQueue(opts.Channel),
		logger:     logger,
		onDisposed: opts.OnDisposed,
		events:     make(chan engineEvent, eventBuffer),
		commands:   make(chan command),
		done:       make(chan struct{}),
	}
	p.machine = newMachine(eng, p.queue, logger)

	if p.surface != nil {
		eng.SetVideoSurface(p.surface)
	}
	eng.SetAudioAttributes(engine.AudioAttributes{ContentType: engine.ContentMovie}, !opts.MixWithOthers)
	eng.AddListener(listener{p})
	if err := eng.Prepare(); err != nil {
		eng.Release()
		if p.surface != nil {
			p.surface.Release()
		}
		return nil, fmt.Errorf("player: prepare: %w", err)
	}

	go p.loop()
	logger.WithFields(logrus.Fields{"uri": desc.URI, "type": desc.Type}).Debug("player created")
	return p, nil
}

// ID returns the session id.
func (p *Player) ID() int64 { return p.id }

// URI returns the media URI the session was created with.
func (p *Player) URI() string { return p.uri }

func (p *Player) loop() {
	for {
		select {
		case ev := <-p.events:
			p.safely("player.handleEvent", func() { p.machine.handle(ev) })
		case c := <-p.commands:
			p.drainEvents()
			p.safely("player.command", c.fn)
			close(c.reply)
		case <-p.done:
			return
		}
	}
}

// drainEvents handles every callback already posted, so a command observes
// the engine state that was reported before it was issued.
func (p *Player) drainEvents() {
	for {
		select {
		case ev := <-p.events:
			p.safely("player.handleEvent", func() { p.machine.handle(ev) })
		default:
			return
		}
	}
}

func (p *Player) safely(op string, fn func()) {
	defer errors.Recover(op)
	fn()
}

// do runs fn on the session loop and waits for it.
func (p *Player) do(fn func()) error {
	c := command{fn: fn, reply: make(chan struct{})}
	select {
	case p.commands <- c:
	case <-p.done:
		return ErrDisposed
	}
	<-c.reply
	return nil
}

// post hands an engine callback to the loop. Callbacks that arrive after
// Dispose are dropped.
func (p *Player) post(ev engineEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Attach makes s the session's observer, replacing any previous one, and
// flushes the events emitted while no observer was attached. It runs on the
// session loop, so it cannot land on a session Dispose is tearing down.
func (p *Player) Attach(s event.Sink) (*event.Registration, error) {
	var reg *event.Registration
	if err := p.do(func() { reg = p.queue.Attach(s) }); err != nil {
		return nil, err
	}
	return reg, nil
}

// Detach removes the observer. Later events are queued.
func (p *Player) Detach() error {
	return p.do(p.queue.Detach)
}

// Play sets the engine's play-when-ready flag.
func (p *Player) Play() error {
	return p.do(func() { p.eng.SetPlayWhenReady(true) })
}

// Pause clears the engine's play-when-ready flag.
func (p *Player) Pause() error {
	return p.do(func() { p.eng.SetPlayWhenReady(false) })
}

// SetLooping switches between repeating the whole media and no repeat.
func (p *Player) SetLooping(looping bool) error {
	mode := engine.RepeatOff
	if looping {
		mode = engine.RepeatAll
	}
	return p.do(func() { p.eng.SetRepeatMode(mode) })
}

// SetVolume sets the output volume, clamped to [0, 1].
func (p *Player) SetVolume(v float64) error {
	if math.IsNaN(v) {
		v = 0
	}
	vol := float32(lo.Clamp(v, 0, 1))
	return p.do(func() { p.eng.SetVolume(vol) })
}

// SetPlaybackSpeed sets the playback rate multiplier. Pitch stays at its
// default.
func (p *Player) SetPlaybackSpeed(speed float64) error {
	params := engine.NewPlaybackParameters(float32(speed))
	return p.do(func() { p.eng.SetPlaybackParameters(params) })
}

// SeekTo moves the playhead to positionMs.
func (p *Player) SeekTo(positionMs int64) error {
	return p.do(func() { p.eng.SeekTo(positionMs) })
}

// Position returns the current playhead position in milliseconds.
func (p *Player) Position() (int64, error) {
	var pos int64
	err := p.do(func() { pos = p.eng.CurrentPosition() })
	return pos, err
}

// State returns the session state.
func (p *Player) State() (State, error) {
	var s State
	err := p.do(func() { s = p.machine.state })
	return s, err
}

// Tracks lists the selectable audio and subtitle tracks. Both lists are
// empty until the engine has mapped tracks.
func (p *Player) Tracks() (audio, subtitles []tracks.Descriptor, err error) {
	err = p.do(func() {
		audio, subtitles = tracks.List(p.eng.CurrentMappedTrackInfo())
	})
	return audio, subtitles, err
}

// SelectTrack plays the track addressed by ref. A ref that does not match the
// engine's current mapping, or a call made before any mapping exists, is
// ignored.
func (p *Player) SelectTrack(ref tracks.Ref) error {
	return p.do(func() {
		err := tracks.Select(p.eng, ref)
		switch {
		case err == nil:
		case stderrors.Is(err, tracks.ErrNoMapping), stderrors.Is(err, tracks.ErrStaleSelection):
			p.logger.WithError(err).WithField("track", ref.String()).Debug("track selection ignored")
		default:
			p.logger.WithError(err).Warn("track selection failed")
		}
	})
}

// Dispose ends the session. The engine is stopped if it had initialized, and
// the surface, observer and engine are always released. Later calls do
// nothing.
func (p *Player) Dispose() {
	_ = p.do(func() {
		summary := Summary{
			ID:         p.id,
			URI:        p.uri,
			PositionMs: p.eng.CurrentPosition(),
			DurationMs: p.eng.Duration(),
			Completed:  p.machine.completed,
		}
		if p.machine.initialized {
			p.eng.Stop()
		}
		if p.surface != nil {
			p.surface.Release()
		}
		p.queue.Detach()
		p.eng.Release()
		close(p.done)

		if p.onDisposed != nil {
			p.onDisposed(summary)
		}
		p.logger.Debug("player disposed")
	})
}

// listener forwards engine callbacks to the session loop.
type listener struct{ p *Player }

func (l listener) OnPlaybackStateChanged(s engine.State) { l.p.post(stateChanged{s}) }
func (l listener) OnPlayerError(err error)               { l.p.post(playerFailed{err}) }
func (l listener) OnIsPlayingChanged(v bool)             { l.p.post(playingChanged{v}) }
func (l listener) OnTracksChanged(t engine.Tracks)       { l.p.post(tracksChanged{t}) }
