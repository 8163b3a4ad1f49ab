// Package engine describes the media engine a player drives.
//
// The engine demuxes, decodes and renders. This package only names the
// operations and callbacks the player needs from it; implementations live in
// subpackages (mpv) or in tests (enginetest).
package engine

import (
	"github.com/go-drift/videoplayer/pkg/source"
)

// State is the engine's playback state.
type State int

const (
	// StateIdle means no media is prepared.
	StateIdle State = iota
	// StateBuffering means the engine cannot play from its current position yet.
	StateBuffering
	// StateReady means the engine can play immediately.
	StateReady
	// StateEnded means playback reached the end of the media.
	StateEnded
)

var stateNames = [...]string{"idle", "buffering", "ready", "ended"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// RepeatMode controls what happens at the end of the media.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// PlaybackParameters holds the playback rate settings.
type PlaybackParameters struct {
	Speed float32
	Pitch float32
}

// NewPlaybackParameters returns parameters at the given speed with default pitch.
func NewPlaybackParameters(speed float32) PlaybackParameters {
	return PlaybackParameters{Speed: speed, Pitch: 1}
}

// ContentType describes the kind of audio content being played.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentSpeech
	ContentMusic
	ContentMovie
)

// AudioAttributes describe the audio stream to the platform mixer.
type AudioAttributes struct {
	ContentType ContentType
}

// Surface is the rendering target frames are drawn into.
type Surface interface {
	Release()
}

// Listener receives engine callbacks. Callbacks may arrive on any goroutine.
type Listener interface {
	OnPlaybackStateChanged(state State)
	OnPlayerError(err error)
	OnIsPlayingChanged(isPlaying bool)
	OnTracksChanged(tracks Tracks)
}

// Engine is a media engine bound to one source.
//
// Setters are asynchronous from the caller's perspective: their effects are
// observed later through Listener callbacks.
type Engine interface {
	Prepare() error
	SetVideoSurface(s Surface)
	SetAudioAttributes(attrs AudioAttributes, handleAudioFocus bool)
	SetPlayWhenReady(play bool)
	SetRepeatMode(mode RepeatMode)
	SetVolume(volume float32)
	SetPlaybackParameters(params PlaybackParameters)
	SeekTo(positionMs int64)

	CurrentPosition() int64
	Duration() int64
	BufferedPosition() int64
	// VideoFormat returns the format of the selected video track, if any.
	VideoFormat() (Format, bool)

	// CurrentMappedTrackInfo returns nil until the engine has mapped tracks
	// to renderers.
	CurrentMappedTrackInfo() *MappedTrackInfo
	TrackSelectionParameters() TrackSelectionParameters
	SetTrackSelectionParameters(params TrackSelectionParameters)

	AddListener(l Listener)
	Stop()
	Release()
}

// Factory constructs an engine for a resolved source.
type Factory func(desc source.Description) (Engine, error)
