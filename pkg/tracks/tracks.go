// Package tracks lists the audio and subtitle tracks an engine can play and
// applies explicit track selections.
package tracks

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/go-drift/videoplayer/pkg/engine"
)

var (
	// ErrNoMapping is returned by Select before the engine has mapped tracks.
	ErrNoMapping = errors.New("tracks: no track mapping available")
	// ErrStaleSelection is returned by Select when a Ref does not address a
	// selectable track of the current mapping.
	ErrStaleSelection = errors.New("tracks: selection does not match current mapping")
)

// imageSubtitleMime is a bitmap subtitle format that cannot be shown as text.
const imageSubtitleMime = "application/pgs"

// Kind says whether a descriptor is an audio or a subtitle track.
type Kind int

const (
	Audio Kind = iota
	Subtitle
)

func (k Kind) String() string {
	if k == Subtitle {
		return "subtitle"
	}
	return "audio"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k Kind) trackType() engine.TrackType {
	if k == Subtitle {
		return engine.TrackTypeText
	}
	return engine.TrackTypeAudio
}

// Ref addresses one track by renderer, group and index.
type Ref struct {
	Renderer int `json:"renderer"`
	Group    int `json:"group"`
	Index    int `json:"index"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%d/%d/%d", r.Renderer, r.Group, r.Index)
}

// Descriptor is a selectable track.
type Descriptor struct {
	Ref
	ID       mo.Option[string] `json:"id"`
	Language mo.Option[string] `json:"language"`
	Title    mo.Option[string] `json:"title"`
	Kind     Kind              `json:"kind"`
}

// List walks every audio and text renderer of m and returns the tracks the
// engine fully supports. A nil mapping yields two empty lists.
func List(m *engine.MappedTrackInfo) (audio, subtitles []Descriptor) {
	audio, subtitles = []Descriptor{}, []Descriptor{}
	for r := 0; r < m.RendererCount(); r++ {
		switch m.RendererType(r) {
		case engine.TrackTypeAudio:
			audio = append(audio, collect(m, r, Audio)...)
		case engine.TrackTypeText:
			subtitles = append(subtitles, collect(m, r, Subtitle)...)
		}
	}
	return audio, subtitles
}

func collect(m *engine.MappedTrackInfo, renderer int, kind Kind) []Descriptor {
	var out []Descriptor
	for g, group := range m.TrackGroups(renderer) {
		for i, f := range group.Formats {
			ref := Ref{Renderer: renderer, Group: g, Index: i}
			if !selectable(m, ref, f, kind) {
				continue
			}
			out = append(out, Descriptor{
				Ref:      ref,
				ID:       f.ID,
				Language: f.Language,
				Title:    f.Label,
				Kind:     kind,
			})
		}
	}
	return out
}

func selectable(m *engine.MappedTrackInfo, ref Ref, f engine.Format, kind Kind) bool {
	if !engine.IsHandled(m.TrackSupport(ref.Renderer, ref.Group, ref.Index)) {
		return false
	}
	return kind != Subtitle || f.SampleMimeType != imageSubtitleMime
}

// Validate checks that r addresses a track List would return for m, and
// returns the kind of that track.
func (r Ref) Validate(m *engine.MappedTrackInfo) (Kind, error) {
	if m == nil {
		return 0, ErrNoMapping
	}
	if r.Renderer < 0 || r.Renderer >= m.RendererCount() {
		return 0, fmt.Errorf("%w: renderer %d out of range", ErrStaleSelection, r.Renderer)
	}

	var kind Kind
	switch m.RendererType(r.Renderer) {
	case engine.TrackTypeAudio:
		kind = Audio
	case engine.TrackTypeText:
		kind = Subtitle
	default:
		return 0, fmt.Errorf("%w: renderer %d is %s", ErrStaleSelection, r.Renderer, m.RendererType(r.Renderer))
	}

	groups := m.TrackGroups(r.Renderer)
	if r.Group < 0 || r.Group >= len(groups) {
		return 0, fmt.Errorf("%w: group %d out of range", ErrStaleSelection, r.Group)
	}
	group := groups[r.Group]
	if r.Index < 0 || r.Index >= group.Len() {
		return 0, fmt.Errorf("%w: index %d out of range", ErrStaleSelection, r.Index)
	}
	if !selectable(m, r, group.Formats[r.Index], kind) {
		return 0, fmt.Errorf("%w: track %s is not selectable", ErrStaleSelection, r)
	}
	return kind, nil
}

// Select overrides the engine's selection so exactly the track r is played
// for its renderer type. The mapping is re-read from the engine, so a Ref
// built from an older listing is checked against what the engine has now.
func Select(e engine.Engine, r Ref) error {
	m := e.CurrentMappedTrackInfo()
	kind, err := r.Validate(m)
	if err != nil {
		return err
	}
	group := m.TrackGroups(r.Renderer)[r.Group]
	override := engine.NewTrackSelectionOverride(kind.trackType(), group, r.Index)
	e.SetTrackSelectionParameters(e.TrackSelectionParameters().WithOverrideForType(override))
	return nil
}

// ActiveAudio returns the id of the first audio track that is both selected
// and supported in t.
func ActiveAudio(t engine.Tracks) (string, bool) {
	for _, g := range lo.Filter(t.Groups, func(g engine.TracksGroup, _ int) bool {
		return g.Type == engine.TrackTypeAudio
	}) {
		for i, f := range g.Formats {
			if g.IsTrackSelected(i) && g.IsTrackSupported(i) {
				return f.ID.OrEmpty(), true
			}
		}
	}
	return "", false
}
