package engine

import (
	"slices"

	"github.com/samber/mo"
)

// TrackType is the media type a renderer or track group handles.
type TrackType int

const (
	TrackTypeUnknown TrackType = iota
	TrackTypeAudio
	TrackTypeVideo
	TrackTypeText
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeAudio:
		return "audio"
	case TrackTypeVideo:
		return "video"
	case TrackTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// Renderer capability levels. Only the low three bits of a support value
// carry the level; higher bits hold adaptive and tunneling flags.
const (
	FormatUnsupportedType     = 0
	FormatUnsupportedSubtype  = 1
	FormatUnsupportedDrm      = 2
	FormatExceedsCapabilities = 3
	FormatHandled             = 4

	FormatSupportMask = 0b111
)

// IsHandled reports whether a raw support value means the renderer fully
// supports the format.
func IsHandled(support int) bool {
	return support&FormatSupportMask == FormatHandled
}

// Format describes one track.
type Format struct {
	ID             mo.Option[string]
	Language       mo.Option[string]
	Label          mo.Option[string]
	SampleMimeType string

	Width           int
	Height          int
	RotationDegrees int
}

// TrackGroup is a set of tracks that carry the same content, such as the
// bitrate variants of one audio language.
type TrackGroup struct {
	Formats []Format
}

// Len returns the number of tracks in the group.
func (g TrackGroup) Len() int { return len(g.Formats) }

// RendererTracks is the part of a mapping that belongs to one renderer.
type RendererTracks struct {
	Type   TrackType
	Groups []TrackGroup
	// Support[g][t] is the raw support value of track t in group g.
	Support [][]int
}

// MappedTrackInfo maps the source's tracks onto the engine's renderers.
type MappedTrackInfo struct {
	Renderers []RendererTracks
}

func (m *MappedTrackInfo) RendererCount() int {
	if m == nil {
		return 0
	}
	return len(m.Renderers)
}

func (m *MappedTrackInfo) RendererType(renderer int) TrackType {
	return m.Renderers[renderer].Type
}

func (m *MappedTrackInfo) TrackGroups(renderer int) []TrackGroup {
	return m.Renderers[renderer].Groups
}

// TrackSupport returns the raw support value for one track, or
// FormatUnsupportedType when the support table has no entry for it.
func (m *MappedTrackInfo) TrackSupport(renderer, group, track int) int {
	s := m.Renderers[renderer].Support
	if group >= len(s) || track >= len(s[group]) {
		return FormatUnsupportedType
	}
	return s[group][track]
}

// TracksGroup is the live selection state of one group.
type TracksGroup struct {
	Type      TrackType
	Formats   []Format
	Supported []bool
	Selected  []bool
}

func (g TracksGroup) IsTrackSupported(i int) bool { return i < len(g.Supported) && g.Supported[i] }
func (g TracksGroup) IsTrackSelected(i int) bool  { return i < len(g.Selected) && g.Selected[i] }

// Tracks is the engine's current track selection, delivered on change.
type Tracks struct {
	Groups []TracksGroup
}

// TrackSelectionOverride forces the engine to play specific tracks of a group.
type TrackSelectionOverride struct {
	Type         TrackType
	Group        TrackGroup
	TrackIndices []int
}

// NewTrackSelectionOverride selects a single track of group.
func NewTrackSelectionOverride(typ TrackType, group TrackGroup, index int) TrackSelectionOverride {
	return TrackSelectionOverride{Type: typ, Group: group, TrackIndices: []int{index}}
}

// TrackSelectionParameters constrain the engine's track selector.
type TrackSelectionParameters struct {
	Overrides []TrackSelectionOverride
}

// WithOverrideForType returns a copy of p where o replaces any existing
// override of the same track type.
func (p TrackSelectionParameters) WithOverrideForType(o TrackSelectionOverride) TrackSelectionParameters {
	out := slices.DeleteFunc(slices.Clone(p.Overrides), func(e TrackSelectionOverride) bool {
		return e.Type == o.Type
	})
	return TrackSelectionParameters{Overrides: append(out, o)}
}

// OverrideForType returns the override applied to typ, if any.
func (p TrackSelectionParameters) OverrideForType(typ TrackType) (TrackSelectionOverride, bool) {
	for _, o := range p.Overrides {
		if o.Type == typ {
			return o, true
		}
	}
	return TrackSelectionOverride{}, false
}
