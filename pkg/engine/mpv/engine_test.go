package mpv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
	"github.com/go-drift/videoplayer/pkg/tracks"
)

func movie() source.Description {
	return source.Description{
		URI:       "https://cdn.example.com/movie.mp4",
		Type:      source.Progressive,
		UserAgent: "tv/3",
		Headers:   map[string]string{"User-Agent": "tv/3", "Referer": "https://example.com", "Authorization": "Bearer x"},
	}
}

func TestPrepareConfiguresAndLoads(t *testing.T) {
	h := newHarness(t, movie())
	require.NoError(t, h.engine.Prepare())

	for i, name := range observedProperties {
		cmd := h.fake.next("observe_property")
		assert.Equal(t, []any{"observe_property", float64(i + 1), name}, cmd)
	}
	assert.Equal(t, []any{"set_property", "pause", true}, h.fake.next("set_property"))
	assert.Equal(t, []any{"set_property", "keep-open", "yes"}, h.fake.next("set_property"))
	assert.Equal(t, []any{"set_property", "user-agent", "tv/3"}, h.fake.next("set_property"))
	assert.Equal(t,
		[]any{"set_property", "http-header-fields", []any{"Authorization: Bearer x", "Referer: https://example.com"}},
		h.fake.next("set_property"))
	assert.Equal(t, []any{"loadfile", "https://cdn.example.com/movie.mp4", "replace"}, h.fake.next("loadfile"))

	assert.Equal(t, engine.StateBuffering, h.listener.next(t))
}

func TestPrepareResolvesAssets(t *testing.T) {
	h := newHarness(t, source.Description{URI: "asset:///videos/intro.mp4"})
	require.NoError(t, h.engine.Prepare())
	assert.Equal(t, []any{"loadfile", "/srv/assets/videos/intro.mp4", "replace"}, h.fake.next("loadfile"))
}

func TestPrepareFailure(t *testing.T) {
	h := newHarness(t, movie())
	h.fake.fail("loadfile", "error running command")

	err := h.engine.Prepare()
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "loadfile", ce.Command)

	// Buffering was announced, then withdrawn.
	assert.Equal(t, engine.StateBuffering, h.listener.next(t))
	assert.Equal(t, engine.StateIdle, h.listener.next(t))
}

func TestStateTransitions(t *testing.T) {
	h := prepared(t, movie())
	f, l := h.fake, h.listener

	f.property("duration", 120.5)
	f.emit(map[string]any{"event": "file-loaded"})
	l.none(t)
	f.emit(map[string]any{"event": "playback-restart"})
	assert.Equal(t, engine.StateReady, l.next(t))

	f.property("pause", false)
	assert.Equal(t, playingChanged(true), l.next(t))

	f.property("paused-for-cache", true)
	assert.Equal(t, engine.StateBuffering, l.next(t))
	assert.Equal(t, playingChanged(false), l.next(t))

	f.property("paused-for-cache", false)
	assert.Equal(t, engine.StateReady, l.next(t))
	assert.Equal(t, playingChanged(true), l.next(t))

	f.property("eof-reached", true)
	assert.Equal(t, engine.StateEnded, l.next(t))
	assert.Equal(t, playingChanged(false), l.next(t))

	// Repeated values do not produce callbacks.
	f.property("eof-reached", true)
	l.none(t)

	assert.Equal(t, int64(120500), h.engine.Duration())
}

func TestSeekingBuffers(t *testing.T) {
	h := prepared(t, movie())
	h.start(t)

	h.fake.property("seeking", true)
	assert.Equal(t, engine.StateBuffering, h.listener.next(t))
	h.fake.property("seeking", false)
	assert.Equal(t, engine.StateReady, h.listener.next(t))
}

func TestReadyWaitsForVideoGeometry(t *testing.T) {
	h := prepared(t, movie())
	f, l, e := h.fake, h.listener, h.engine

	f.property("track-list", trackList())
	_, ok := l.next(t).(tracksChanged)
	require.True(t, ok)

	f.emit(map[string]any{"event": "file-loaded"})
	f.property("duration", 120.5)
	f.emit(map[string]any{"event": "playback-restart"})
	l.none(t)

	f.property("video-params", map[string]any{"w": 1920, "h": 800})
	assert.Equal(t, engine.StateReady, l.next(t))
	vf, ok := e.VideoFormat()
	require.True(t, ok)
	assert.Equal(t, 1920, vf.Width)
	assert.Equal(t, 800, vf.Height)
	assert.Equal(t, int64(120500), e.Duration())

	// Only the first Ready waits; losing geometry later is not buffering.
	f.property("video-params", nil)
	l.none(t)
}

func TestAudioOnlyReadyOnRestart(t *testing.T) {
	h := prepared(t, movie())
	f, l := h.fake, h.listener

	f.property("track-list", []map[string]any{
		{"id": 1, "type": "audio", "codec": "aac", "selected": true},
	})
	l.next(t)

	f.emit(map[string]any{"event": "file-loaded"})
	l.none(t)
	f.emit(map[string]any{"event": "playback-restart"})
	assert.Equal(t, engine.StateReady, l.next(t))
}

func TestPositionsAndVideo(t *testing.T) {
	h := prepared(t, movie())
	f, e := h.fake, h.engine

	f.property("time-pos", 12.3456)
	f.property("demuxer-cache-time", 30.0)
	f.property("video-params", map[string]any{"w": 1920, "h": 1080, "rotate": 90})

	require.Eventually(t, func() bool {
		_, ok := e.VideoFormat()
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(12346), e.CurrentPosition())
	assert.Equal(t, int64(30000), e.BufferedPosition())
	vf, _ := e.VideoFormat()
	assert.Equal(t, engine.Format{Width: 1920, Height: 1080, RotationDegrees: 90}, vf)

	f.property("video-params", nil)
	require.Eventually(t, func() bool {
		_, ok := e.VideoFormat()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSettersSendCommands(t *testing.T) {
	h := prepared(t, movie())
	e, f := h.engine, h.fake

	e.SetPlayWhenReady(true)
	assert.Equal(t, []any{"set_property", "pause", false}, f.next("set_property"))

	e.SetRepeatMode(engine.RepeatAll)
	assert.Equal(t, []any{"set_property", "loop-file", "inf"}, f.next("set_property"))
	e.SetRepeatMode(engine.RepeatOff)
	assert.Equal(t, []any{"set_property", "loop-file", "no"}, f.next("set_property"))

	e.SetVolume(0.5)
	assert.Equal(t, []any{"set_property", "volume", 50.0}, f.next("set_property"))

	e.SetPlaybackParameters(engine.NewPlaybackParameters(2))
	assert.Equal(t, []any{"set_property", "speed", 2.0}, f.next("set_property"))

	e.SeekTo(65000)
	assert.Equal(t, []any{"seek", 65.0, "absolute"}, f.next("seek"))
	assert.Equal(t, int64(65000), e.CurrentPosition())

	e.Stop()
	assert.Equal(t, []any{"stop"}, f.next("stop"))
	assert.Equal(t, engine.StateIdle, h.listener.next(t))
}

func TestAudioAttributesAndSurface(t *testing.T) {
	h := newHarness(t, movie())
	h.engine.SetAudioAttributes(engine.AudioAttributes{ContentType: engine.ContentMovie}, false)
	h.engine.SetVideoSurface(nil)
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	assert.Equal(t, engine.ContentMovie, h.engine.audio.ContentType)
	assert.False(t, h.engine.handleFocus)
}

func trackList() []map[string]any {
	return []map[string]any{
		{"id": 1, "type": "video", "codec": "h264", "demux-w": 1920, "demux-h": 800, "selected": true},
		{"id": 1, "type": "audio", "codec": "aac", "lang": "eng", "title": "Stereo", "selected": true},
		{"id": 2, "type": "audio", "codec": "ac3", "lang": "fra"},
		{"id": 1, "type": "sub", "codec": "subrip", "lang": "eng"},
		{"id": 2, "type": "sub", "codec": "hdmv_pgs_subtitle", "lang": "deu"},
	}
}

func TestTrackList(t *testing.T) {
	h := prepared(t, movie())
	h.fake.property("track-list", trackList())

	got, ok := h.listener.next(t).(tracksChanged)
	require.True(t, ok)
	require.Len(t, got.Groups, 5)
	assert.Equal(t, engine.TrackTypeVideo, got.Groups[0].Type)
	id, ok := tracks.ActiveAudio(got.Tracks)
	assert.True(t, ok)
	assert.Equal(t, "1", id)

	m := h.engine.CurrentMappedTrackInfo()
	require.NotNil(t, m)
	require.Equal(t, 3, m.RendererCount())
	assert.Equal(t, engine.TrackTypeAudio, m.RendererType(rendererAudio))
	assert.Len(t, m.TrackGroups(rendererAudio), 2)
	assert.Equal(t, "application/pgs", m.TrackGroups(rendererText)[1].Formats[0].SampleMimeType)

	audio, subtitles := tracks.List(m)
	require.Len(t, audio, 2)
	assert.Equal(t, "eng", audio[0].Language.OrEmpty())
	assert.Equal(t, "Stereo", audio[0].Title.OrEmpty())
	assert.False(t, audio[1].Title.IsPresent())
	require.Len(t, subtitles, 1, "image subtitles are not listed")
	assert.Equal(t, "eng", subtitles[0].Language.OrEmpty())
}

func TestSelectTrackSwitchesAid(t *testing.T) {
	h := prepared(t, movie())
	h.fake.property("track-list", trackList())
	h.listener.next(t)

	require.NoError(t, tracks.Select(h.engine, tracks.Ref{Renderer: rendererAudio, Group: 1, Index: 0}))
	assert.Equal(t, []any{"set_property", "aid", 2.0}, h.fake.next("set_property"))

	require.NoError(t, tracks.Select(h.engine, tracks.Ref{Renderer: rendererText, Group: 0, Index: 0}))
	cmd := h.fake.next("set_property")
	// The audio override is re-applied alongside the new subtitle one.
	if cmd[1] == "aid" {
		cmd = h.fake.next("set_property")
	}
	assert.Equal(t, []any{"set_property", "sid", 1.0}, cmd)

	o, ok := h.engine.TrackSelectionParameters().OverrideForType(engine.TrackTypeText)
	require.True(t, ok)
	assert.Equal(t, []int{0}, o.TrackIndices)

	err := tracks.Select(h.engine, tracks.Ref{Renderer: rendererText, Group: 1, Index: 0})
	assert.ErrorIs(t, err, tracks.ErrStaleSelection)
}

func TestEndFileError(t *testing.T) {
	h := prepared(t, movie())
	h.start(t)

	h.fake.emit(map[string]any{"event": "end-file", "reason": "error", "file_error": "loading failed"})

	err, ok := h.listener.next(t).(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "loading failed")
	assert.Equal(t, engine.StateIdle, h.listener.next(t))
}

func TestEndFileEOF(t *testing.T) {
	h := prepared(t, movie())
	h.start(t)

	h.fake.emit(map[string]any{"event": "end-file", "reason": "eof"})
	assert.Equal(t, engine.StateEnded, h.listener.next(t))
}

func TestReleaseQuitsOnce(t *testing.T) {
	fake, client := newFakeMPV(t)
	released := 0
	e := New(client, movie(), Options{OnRelease: func() { released++ }})

	e.Release()
	e.Release()

	assert.Equal(t, []any{"quit"}, fake.next("quit"))
	assert.Equal(t, 1, released)
	select {
	case <-e.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection still open after Release")
	}
	assert.ErrorIs(t, e.Prepare(), ErrClosed)
}

func TestCheckVersion(t *testing.T) {
	h := newHarness(t, movie())
	ctx := context.Background()

	assert.NoError(t, h.engine.CheckVersion(ctx, "v0.35.0"))
	err := h.engine.CheckVersion(ctx, "v0.38.0")
	assert.True(t, errors.Is(err, ErrVersion), "got %v", err)

	h.fake.mu.Lock()
	h.fake.props["mpv-version"] = "git-build"
	h.fake.mu.Unlock()
	assert.ErrorContains(t, h.engine.CheckVersion(ctx, "v0.35.0"), "unrecognized version")
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"mpv 0.37.0", "v0.37.0", true},
		{"mpv v0.38.0-dirty", "v0.38.0", true},
		{"mpv 0.36", "v0.36.0", true},
		{"mpv git-3a1b", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseVersion(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
