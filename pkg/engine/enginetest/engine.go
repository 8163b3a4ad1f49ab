// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"errors"
	"sync"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
)

// Engine is a test double for engine.Engine. It records every command and
// lets tests fire listener callbacks directly.
type Engine struct {
	mu sync.Mutex

	desc      source.Description
	listeners []engine.Listener

	prepared      bool
	surface       engine.Surface
	audioAttrs    engine.AudioAttributes
	handleFocus   bool
	playWhenReady bool
	repeatMode    engine.RepeatMode
	volume        float32
	params        engine.PlaybackParameters
	seeks         []int64
	selection     engine.TrackSelectionParameters
	stopCalls     int
	releaseCalls  int

	position    int64
	duration    int64
	buffered    int64
	videoFormat *engine.Format
	mapping     *engine.MappedTrackInfo

	prepareErr error
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine with volume 1 and normal speed.
func New() *Engine {
	return &Engine{volume: 1, params: engine.NewPlaybackParameters(1)}
}

// Factory returns an engine.Factory that always hands out e.
func (e *Engine) Factory() engine.Factory {
	return func(desc source.Description) (engine.Engine, error) {
		e.mu.Lock()
		e.desc = desc
		e.mu.Unlock()
		return e, nil
	}
}

// FailingFactory returns a factory that always fails with err.
func FailingFactory(err error) engine.Factory {
	if err == nil {
		err = errors.New("enginetest: factory failure")
	}
	return func(source.Description) (engine.Engine, error) { return nil, err }
}

// Setters used by tests to script engine-side state.

func (e *Engine) SetPrepareError(err error) { e.locked(func() { e.prepareErr = err }) }
func (e *Engine) SetPosition(ms int64)      { e.locked(func() { e.position = ms }) }
func (e *Engine) SetDuration(ms int64)      { e.locked(func() { e.duration = ms }) }
func (e *Engine) SetBuffered(ms int64)      { e.locked(func() { e.buffered = ms }) }

func (e *Engine) SetVideoFormat(f *engine.Format) { e.locked(func() { e.videoFormat = f }) }

func (e *Engine) SetMapping(m *engine.MappedTrackInfo) { e.locked(func() { e.mapping = m }) }

// Fire* invoke every registered listener as the engine would.

func (e *Engine) FireState(s engine.State) {
	for _, l := range e.snapshotListeners() {
		l.OnPlaybackStateChanged(s)
	}
}

func (e *Engine) FireError(err error) {
	for _, l := range e.snapshotListeners() {
		l.OnPlayerError(err)
	}
}

func (e *Engine) FireIsPlaying(v bool) {
	for _, l := range e.snapshotListeners() {
		l.OnIsPlayingChanged(v)
	}
}

func (e *Engine) FireTracks(t engine.Tracks) {
	for _, l := range e.snapshotListeners() {
		l.OnTracksChanged(t)
	}
}

// Inspection helpers.

func (e *Engine) Description() source.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc
}

func (e *Engine) Prepared() bool { return withLock(e, func() bool { return e.prepared }) }

func (e *Engine) Surface() engine.Surface {
	return withLock(e, func() engine.Surface { return e.surface })
}

func (e *Engine) AudioAttributes() (engine.AudioAttributes, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audioAttrs, e.handleFocus
}

func (e *Engine) PlayWhenReady() bool { return withLock(e, func() bool { return e.playWhenReady }) }

func (e *Engine) RepeatMode() engine.RepeatMode {
	return withLock(e, func() engine.RepeatMode { return e.repeatMode })
}

func (e *Engine) Volume() float32 { return withLock(e, func() float32 { return e.volume }) }

func (e *Engine) PlaybackParameters() engine.PlaybackParameters {
	return withLock(e, func() engine.PlaybackParameters { return e.params })
}

func (e *Engine) Seeks() []int64 {
	return withLock(e, func() []int64 { return append([]int64(nil), e.seeks...) })
}

func (e *Engine) StopCalls() int    { return withLock(e, func() int { return e.stopCalls }) }
func (e *Engine) ReleaseCalls() int { return withLock(e, func() int { return e.releaseCalls }) }

// engine.Engine

func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepareErr != nil {
		return e.prepareErr
	}
	e.prepared = true
	return nil
}

func (e *Engine) SetVideoSurface(s engine.Surface) { e.locked(func() { e.surface = s }) }

func (e *Engine) SetAudioAttributes(attrs engine.AudioAttributes, handleFocus bool) {
	e.locked(func() { e.audioAttrs, e.handleFocus = attrs, handleFocus })
}

func (e *Engine) SetPlayWhenReady(play bool) { e.locked(func() { e.playWhenReady = play }) }

func (e *Engine) SetRepeatMode(mode engine.RepeatMode) { e.locked(func() { e.repeatMode = mode }) }

func (e *Engine) SetVolume(v float32) { e.locked(func() { e.volume = v }) }

func (e *Engine) SetPlaybackParameters(p engine.PlaybackParameters) {
	e.locked(func() { e.params = p })
}

func (e *Engine) SeekTo(ms int64) {
	e.locked(func() {
		e.seeks = append(e.seeks, ms)
		e.position = ms
	})
}

func (e *Engine) CurrentPosition() int64  { return withLock(e, func() int64 { return e.position }) }
func (e *Engine) Duration() int64         { return withLock(e, func() int64 { return e.duration }) }
func (e *Engine) BufferedPosition() int64 { return withLock(e, func() int64 { return e.buffered }) }

func (e *Engine) VideoFormat() (engine.Format, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.videoFormat == nil {
		return engine.Format{}, false
	}
	return *e.videoFormat, true
}

func (e *Engine) CurrentMappedTrackInfo() *engine.MappedTrackInfo {
	return withLock(e, func() *engine.MappedTrackInfo { return e.mapping })
}

func (e *Engine) TrackSelectionParameters() engine.TrackSelectionParameters {
	return withLock(e, func() engine.TrackSelectionParameters { return e.selection })
}

func (e *Engine) SetTrackSelectionParameters(p engine.TrackSelectionParameters) {
	e.locked(func() { e.selection = p })
}

func (e *Engine) AddListener(l engine.Listener) {
	e.locked(func() { e.listeners = append(e.listeners, l) })
}

func (e *Engine) Stop() { e.locked(func() { e.stopCalls++ }) }

func (e *Engine) Release() { e.locked(func() { e.releaseCalls++ }) }

func (e *Engine) snapshotListeners() []engine.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Listener(nil), e.listeners...)
}

func (e *Engine) locked(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func withLock[T any](e *Engine, fn func() T) T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// Surface is a test double for engine.Surface that counts releases.
type Surface struct {
	mu       sync.Mutex
	released int
}

func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

// Released returns how many times Release was called.
func (s *Surface) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
