package player

import (
	"fmt"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/event"
	"github.com/go-drift/videoplayer/pkg/tracks"
)

// State is the session state as seen by the observer.
type State int

const (
	StateUninitialized State = iota
	StateBuffering
	StateReady
	StateEnded
	StateErrored
)

var stateNames = [...]string{"uninitialized", "buffering", "ready", "ended", "errored"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// engineEvent is a listener callback captured as a value so it can be handed
// to the session loop.
type engineEvent interface {
	engineEvent()
}

type stateChanged struct{ state engine.State }
type playerFailed struct{ err error }
type playingChanged struct{ playing bool }
type tracksChanged struct{ tracks engine.Tracks }

func (stateChanged) engineEvent()   {}
func (playerFailed) engineEvent()   {}
func (playingChanged) engineEvent() {}
func (tracksChanged) engineEvent()  {}

// emitter is the part of event.Queue the machine needs.
type emitter interface {
	Emit(e event.Event)
}

// machine turns engine callbacks into observer events. It is only touched by
// the session loop.
type machine struct {
	eng    engine.Engine
	out    emitter
	logger logrus.FieldLogger

	state       State
	initialized bool
	buffering   bool
	completed   bool
}

func newMachine(eng engine.Engine, out emitter, logger logrus.FieldLogger) *machine {
	return &machine{eng: eng, out: out, logger: logger}
}

func (m *machine) handle(ev engineEvent) {
	switch ev := ev.(type) {
	case stateChanged:
		m.onState(ev.state)
	case playerFailed:
		m.onError(ev.err)
	case playingChanged:
		m.out.Emit(event.PlayingChanged{IsPlaying: ev.playing})
	case tracksChanged:
		if id, ok := tracks.ActiveAudio(ev.tracks); ok {
			m.out.Emit(event.AudioTrackChanged{ID: id})
		}
	}
}

func (m *machine) onState(s engine.State) {
	if s != engine.StateBuffering {
		m.setBuffering(false)
	}

	switch s {
	case engine.StateBuffering:
		m.state = StateBuffering
		m.setBuffering(true)
		m.out.Emit(event.BufferingUpdate{
			Ranges: []event.Range{{Start: 0, End: m.eng.BufferedPosition()}},
		})
	case engine.StateReady:
		m.state = StateReady
		if !m.initialized {
			m.initialized = true
			m.out.Emit(m.initializedEvent())
		}
	case engine.StateEnded:
		m.state = StateEnded
		m.completed = true
		m.out.Emit(event.Completed{})
	case engine.StateIdle:
		// Idle follows Stop; the observer has nothing to learn from it.
	}
}

func (m *machine) onError(err error) {
	m.setBuffering(false)
	m.state = StateErrored
	m.logger.WithError(err).Warn("engine reported playback error")
	m.out.Emit(event.Error{
		Code:    event.ErrorCode,
		Message: fmt.Sprintf("Video player had error %v", err),
	})
}

func (m *machine) setBuffering(b bool) {
	if m.buffering == b {
		return
	}
	m.buffering = b
	if b {
		m.out.Emit(event.BufferingStart{})
	} else {
		m.out.Emit(event.BufferingEnd{})
	}
}

func (m *machine) initializedEvent() event.Initialized {
	ev := event.Initialized{DurationMs: m.eng.Duration()}
	if f, ok := m.eng.VideoFormat(); ok {
		ev.Video = mo.Some(event.Geometry(f.Width, f.Height, f.RotationDegrees))
	}
	return ev
}
