// Package event defines the events a player session reports to its observer
// and the queue that delivers them in order.
package event

import (
	"github.com/samber/mo"
)

// ErrorCode is the code carried by every Error event.
const ErrorCode = "VideoError"

// Event is a single notification on a player's event stream.
//
// The set of implementations is closed: only the types in this package
// satisfy it.
type Event interface {
	// Name returns the wire tag of the event (the "event" field).
	Name() string
	isEvent()
}

// VideoGeometry is the display size of the video at initialization.
type VideoGeometry struct {
	Width  int
	Height int
	// RotationCorrection is set only when the host must rotate the surface
	// itself (a 180 degree source).
	RotationCorrection mo.Option[int]
}

// Geometry maps a decoded frame size and rotation to the size the host should
// lay out. Quarter turns swap the axes; a half turn keeps them and asks for a
// correction instead.
func Geometry(width, height, rotationDegrees int) VideoGeometry {
	g := VideoGeometry{Width: width, Height: height}
	switch rotationDegrees {
	case 90, 270:
		g.Width, g.Height = height, width
	case 180:
		g.RotationCorrection = mo.Some(180)
	}
	return g
}

// Range is a buffered span in milliseconds.
type Range struct {
	Start int64
	End   int64
}

// Initialized is sent once, the first time the engine becomes ready.
type Initialized struct {
	DurationMs int64
	// Video is absent for audio-only sources.
	Video mo.Option[VideoGeometry]
}

// BufferingStart is sent when the engine starts buffering.
type BufferingStart struct{}

// BufferingEnd is sent when the engine leaves the buffering state.
type BufferingEnd struct{}

// BufferingUpdate reports the buffered ranges.
type BufferingUpdate struct {
	Ranges []Range
}

// Completed is sent when playback reaches the end of the media.
type Completed struct{}

// PlayingChanged reports the engine's is-playing flag.
type PlayingChanged struct {
	IsPlaying bool
}

// AudioTrackChanged reports the id of the newly active audio track.
type AudioTrackChanged struct {
	ID string
}

// Error reports a playback fault. It is delivered out-of-band on the wire.
type Error struct {
	Code    string
	Message string
}

func (Initialized) Name() string       { return "initialized" }
func (BufferingStart) Name() string    { return "bufferingStart" }
func (BufferingEnd) Name() string      { return "bufferingEnd" }
func (BufferingUpdate) Name() string   { return "bufferingUpdate" }
func (Completed) Name() string         { return "completed" }
func (PlayingChanged) Name() string    { return "isPlayingStateUpdate" }
func (AudioTrackChanged) Name() string { return "audioTrackChanged" }
func (Error) Name() string             { return "error" }

func (Initialized) isEvent()       {}
func (BufferingStart) isEvent()    {}
func (BufferingEnd) isEvent()      {}
func (BufferingUpdate) isEvent()   {}
func (Completed) isEvent()         {}
func (PlayingChanged) isEvent()    {}
func (AudioTrackChanged) isEvent() {}
func (Error) isEvent()             {}

// Encode converts an event to its wire map.
//
// Success events carry an "event" tag plus their fields. Errors are wrapped
// as {"error": {"code", "message"}} so transports can route them separately.
func Encode(e Event) map[string]any {
	switch e := e.(type) {
	case Initialized:
		m := map[string]any{"event": e.Name(), "duration": e.DurationMs}
		if g, ok := e.Video.Get(); ok {
			m["width"] = g.Width
			m["height"] = g.Height
			if rc, ok := g.RotationCorrection.Get(); ok {
				m["rotationCorrection"] = rc
			}
		}
		return m
	case BufferingUpdate:
		values := make([][]int64, 0, len(e.Ranges))
		for _, r := range e.Ranges {
			values = append(values, []int64{r.Start, r.End})
		}
		return map[string]any{"event": e.Name(), "values": values}
	case PlayingChanged:
		return map[string]any{"event": e.Name(), "isPlaying": e.IsPlaying}
	case AudioTrackChanged:
		return map[string]any{"event": e.Name(), "audioTrack": e.ID}
	case Error:
		return map[string]any{"error": map[string]any{"code": e.Code, "message": e.Message}}
	case nil:
		return nil
	default:
		return map[string]any{"event": e.Name()}
	}
}
