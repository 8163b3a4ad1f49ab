// Package mpv implements engine.Engine on top of an mpv process controlled
// through its JSON IPC socket.
//
// mpv renders into its own window, so the engine accepts any surface and
// only keeps a reference to it. Commands that mutate playback are written
// without waiting for mpv's reply; their effects come back as property
// changes, which is what the engine contract expects of setters.
package mpv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
)

// Renderer indices of the mapping the engine publishes.
const (
	rendererVideo = iota
	rendererAudio
	rendererText
)

// observedProperties are registered with observe_property on Prepare, in
// this order; the observer id is the index plus one.
var observedProperties = []string{
	"pause",
	"paused-for-cache",
	"seeking",
	"eof-reached",
	"time-pos",
	"duration",
	"demuxer-cache-time",
	"video-params",
	"track-list",
}

const defaultTimeout = 5 * time.Second

// Options configure an Engine.
type Options struct {
	Logger logrus.FieldLogger
	// Timeout bounds each blocking call Prepare makes. Defaults to 5s.
	Timeout time.Duration
	// AssetRoot is the directory asset:/// URIs are resolved against.
	AssetRoot string
	// OnRelease runs once after the IPC connection is closed, typically to
	// reap the mpv process.
	OnRelease func()
}

// Engine drives one mpv instance.
type Engine struct {
	desc      source.Description
	conn      *conn
	logger    logrus.FieldLogger
	timeout   time.Duration
	assetRoot string
	onRelease func()

	mu          sync.Mutex
	listeners   []engine.Listener
	st          status
	state       engine.State
	isPlaying   bool
	mapping     *engine.MappedTrackInfo
	selection   engine.TrackSelectionParameters
	surface     engine.Surface
	audio       engine.AudioAttributes
	handleFocus bool
	released    bool
}

// status mirrors the observed mpv properties.
type status struct {
	loading bool
	loaded  bool
	// restarted is set by the first playback-restart after file-loaded, once
	// mpv has decoded a frame.
	restarted bool
	// videoSelected is true while track-list has a selected video track.
	videoSelected bool
	// started latches the first Ready of a file. Until then a selected video
	// track also has to report its geometry.
	started bool

	paused         bool
	pausedForCache bool
	seeking        bool
	eof            bool

	positionMs int64
	durationMs int64
	cacheMs    int64
	video      *engine.Format
}

func (s status) derive() engine.State {
	switch {
	case !s.loading && !s.loaded:
		return engine.StateIdle
	case s.eof:
		return engine.StateEnded
	case !s.loaded || !s.started || s.pausedForCache || s.seeking:
		return engine.StateBuffering
	default:
		return engine.StateReady
	}
}

func (s *status) settle() {
	if s.loaded && s.restarted && (s.video != nil || !s.videoSelected) {
		s.started = true
	}
}

// unload forgets the current file.
func (s *status) unload() {
	s.loading, s.loaded = false, false
	s.restarted, s.started = false, false
}

var _ engine.Engine = (*Engine)(nil)

// New wraps an established IPC connection. The engine owns rw from here on.
func New(rw io.ReadWriteCloser, desc source.Description, opts Options) *Engine {
	e := &Engine{
		desc:      desc,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		assetRoot: opts.AssetRoot,
		onRelease: opts.OnRelease,
		st:        status{paused: true},
		state:     engine.StateIdle,
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	e.conn = newConn(rw, e.logger, e.handleEvent)
	return e
}

// Prepare subscribes to the properties the engine tracks and loads the
// source paused.
func (e *Engine) Prepare() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	for i, name := range observedProperties {
		if _, err := e.conn.Call(ctx, "observe_property", i+1, name); err != nil {
			return fmt.Errorf("mpv: observe %s: %w", name, err)
		}
	}

	settings := [][]any{
		{"set_property", "pause", true},
		{"set_property", "keep-open", "yes"},
		{"set_property", "user-agent", e.desc.UserAgent},
		{"set_property", "http-header-fields", headerFields(e.desc.Headers)},
	}
	for _, cmd := range settings {
		if _, err := e.conn.Call(ctx, cmd...); err != nil {
			return err
		}
	}

	e.update(func(s *status) { s.loading = true })
	if _, err := e.conn.Call(ctx, "loadfile", e.target(), "replace"); err != nil {
		e.update(func(s *status) { s.loading = false })
		return fmt.Errorf("mpv: load %s: %w", e.desc.URI, err)
	}
	return nil
}

// target maps the source URI to something mpv can open.
func (e *Engine) target() string {
	if path, ok := strings.CutPrefix(e.desc.URI, "asset:///"); ok && e.assetRoot != "" {
		return filepath.Join(e.assetRoot, filepath.FromSlash(path))
	}
	return e.desc.URI
}

// headerFields renders request headers as mpv's "Name: value" list. The user
// agent has its own property.
func headerFields(headers map[string]string) []string {
	keys := lo.Filter(lo.Keys(headers), func(k string, _ int) bool {
		return !strings.EqualFold(k, "User-Agent")
	})
	slices.Sort(keys)
	return lo.Map(keys, func(k string, _ int) string { return k + ": " + headers[k] })
}

func (e *Engine) send(args ...any) {
	if err := e.conn.Send(args...); err != nil {
		e.logger.WithError(err).WithField("command", commandName(args)).Debug("mpv command not sent")
	}
}

func (e *Engine) SetVideoSurface(s engine.Surface) {
	e.mu.Lock()
	e.surface = s
	e.mu.Unlock()
}

// SetAudioAttributes records the attributes. mpv has no audio focus, so
// handleAudioFocus has no effect beyond being reported in logs.
func (e *Engine) SetAudioAttributes(attrs engine.AudioAttributes, handleAudioFocus bool) {
	e.mu.Lock()
	e.audio, e.handleFocus = attrs, handleAudioFocus
	e.mu.Unlock()
	e.logger.WithField("handleFocus", handleAudioFocus).Debug("audio attributes set")
}

func (e *Engine) SetPlayWhenReady(play bool) {
	e.send("set_property", "pause", !play)
}

func (e *Engine) SetRepeatMode(mode engine.RepeatMode) {
	value := "no"
	if mode != engine.RepeatOff {
		value = "inf"
	}
	e.send("set_property", "loop-file", value)
}

// SetVolume maps [0,1] onto mpv's percent scale.
func (e *Engine) SetVolume(volume float32) {
	e.send("set_property", "volume", float64(volume)*100)
}

func (e *Engine) SetPlaybackParameters(params engine.PlaybackParameters) {
	e.send("set_property", "speed", float64(params.Speed))
}

func (e *Engine) SeekTo(positionMs int64) {
	e.mu.Lock()
	e.st.positionMs = positionMs
	e.mu.Unlock()
	e.send("seek", float64(positionMs)/1000, "absolute")
}

func (e *Engine) CurrentPosition() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.positionMs
}

func (e *Engine) Duration() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.durationMs
}

func (e *Engine) BufferedPosition() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.st.cacheMs, e.st.positionMs)
}

func (e *Engine) VideoFormat() (engine.Format, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.video == nil {
		return engine.Format{}, false
	}
	return *e.st.video, true
}

func (e *Engine) CurrentMappedTrackInfo() *engine.MappedTrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapping
}

func (e *Engine) TrackSelectionParameters() engine.TrackSelectionParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

// SetTrackSelectionParameters applies audio and text overrides by switching
// mpv's aid and sid to the overridden track.
func (e *Engine) SetTrackSelectionParameters(params engine.TrackSelectionParameters) {
	e.mu.Lock()
	e.selection = params
	e.mu.Unlock()

	for _, o := range params.Overrides {
		property, ok := map[engine.TrackType]string{
			engine.TrackTypeAudio: "aid",
			engine.TrackTypeText:  "sid",
		}[o.Type]
		if !ok || len(o.TrackIndices) == 0 || o.TrackIndices[0] >= o.Group.Len() {
			continue
		}
		id, ok := o.Group.Formats[o.TrackIndices[0]].ID.Get()
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			e.logger.WithField("track", id).Warn("override names a track mpv did not report")
			continue
		}
		e.send("set_property", property, n)
	}
}

func (e *Engine) AddListener(l engine.Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Stop unloads the media; mpv stays alive and idle.
func (e *Engine) Stop() {
	e.send("stop")
	e.update(func(s *status) { s.unload() })
}

// Release quits mpv and closes the connection. Later calls do nothing.
func (e *Engine) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.listeners = nil
	e.mu.Unlock()

	e.send("quit")
	_ = e.conn.Close()
	if e.onRelease != nil {
		e.onRelease()
	}
}

// update mutates the status and notifies listeners of the resulting state
// and is-playing changes.
func (e *Engine) update(fn func(*status)) {
	e.mu.Lock()
	fn(&e.st)
	e.st.settle()
	notify := e.transitionsLocked()
	e.mu.Unlock()
	for _, n := range notify {
		n()
	}
}

// transitionsLocked recomputes the derived state and returns the listener
// calls that changes require, in delivery order.
func (e *Engine) transitionsLocked() []func() {
	var out []func()
	listeners := slices.Clone(e.listeners)

	if state := e.st.derive(); state != e.state {
		e.state = state
		out = append(out, func() {
			for _, l := range listeners {
				l.OnPlaybackStateChanged(state)
			}
		})
	}
	playing := e.state == engine.StateReady && !e.st.paused
	if playing != e.isPlaying {
		e.isPlaying = playing
		out = append(out, func() {
			for _, l := range listeners {
				l.OnIsPlayingChanged(playing)
			}
		})
	}
	return out
}

func (e *Engine) handleEvent(m message) {
	switch m.Event {
	case "property-change":
		e.propertyChanged(m.Name, m.Data)
	case "file-loaded":
		e.update(func(s *status) {
			s.loaded, s.eof = true, false
			s.restarted, s.started = false, false
		})
	case "playback-restart":
		e.update(func(s *status) { s.restarted = true })
	case "end-file":
		e.endFile(m)
	}
}

func (e *Engine) endFile(m message) {
	e.mu.Lock()
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	if m.Reason == "error" {
		reason := m.FileError
		if reason == "" {
			reason = "playback failed"
		}
		err := fmt.Errorf("mpv: %s: %s", e.desc.URI, reason)
		for _, l := range listeners {
			l.OnPlayerError(err)
		}
	}
	e.update(func(s *status) {
		if m.Reason == "eof" {
			s.eof = true
			return
		}
		s.unload()
	})
}

func (e *Engine) propertyChanged(name string, data json.RawMessage) {
	switch name {
	case "pause":
		v := decodeBool(data)
		e.update(func(s *status) { s.paused = v })
	case "paused-for-cache":
		v := decodeBool(data)
		e.update(func(s *status) { s.pausedForCache = v })
	case "seeking":
		v := decodeBool(data)
		e.update(func(s *status) { s.seeking = v })
	case "eof-reached":
		v := decodeBool(data)
		e.update(func(s *status) { s.eof = v })
	case "time-pos":
		if ms, ok := decodeSeconds(data); ok {
			e.update(func(s *status) { s.positionMs = ms })
		}
	case "duration":
		if ms, ok := decodeSeconds(data); ok {
			e.update(func(s *status) { s.durationMs = ms })
		}
	case "demuxer-cache-time":
		if ms, ok := decodeSeconds(data); ok {
			e.update(func(s *status) { s.cacheMs = ms })
		}
	case "video-params":
		video := decodeVideoParams(data)
		e.update(func(s *status) { s.video = video })
	case "track-list":
		e.tracksChanged(data)
	}
}

func (e *Engine) tracksChanged(data json.RawMessage) {
	var list []track
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			e.logger.WithError(err).Warn("unreadable track-list")
			return
		}
	}
	mapping, tracks := mapTracks(list)
	video := slices.ContainsFunc(list, func(t track) bool { return t.Type == "video" && t.Selected })

	e.mu.Lock()
	e.mapping = mapping
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.OnTracksChanged(tracks)
	}
	e.update(func(s *status) { s.videoSelected = video })
}

func decodeBool(data json.RawMessage) bool {
	var v bool
	_ = json.Unmarshal(data, &v)
	return v
}

func decodeSeconds(data json.RawMessage) (int64, bool) {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil || v == nil || math.IsNaN(*v) {
		return 0, false
	}
	return int64(math.Round(*v * 1000)), true
}

type videoParams struct {
	W      int `json:"w"`
	H      int `json:"h"`
	Rotate int `json:"rotate"`
}

func decodeVideoParams(data json.RawMessage) *engine.Format {
	var p *videoParams
	if err := json.Unmarshal(data, &p); err != nil || p == nil || p.W == 0 || p.H == 0 {
		return nil
	}
	return &engine.Format{Width: p.W, Height: p.H, RotationDegrees: p.Rotate}
}

// optional turns mpv's empty strings into None.
func optional(s string) mo.Option[string] {
	return mo.EmptyableToOption(s)
}
