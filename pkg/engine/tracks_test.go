package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHandled(t *testing.T) {
	assert.True(t, IsHandled(FormatHandled))
	// Adaptive/tunneling flags live above the mask.
	assert.True(t, IsHandled(FormatHandled|0b11000))
	assert.False(t, IsHandled(FormatExceedsCapabilities))
	assert.False(t, IsHandled(FormatUnsupportedType))
}

func TestWithOverrideForTypeReplacesSameType(t *testing.T) {
	audioA := NewTrackSelectionOverride(TrackTypeAudio, TrackGroup{}, 0)
	text := NewTrackSelectionOverride(TrackTypeText, TrackGroup{}, 1)
	audioB := NewTrackSelectionOverride(TrackTypeAudio, TrackGroup{}, 2)

	p := TrackSelectionParameters{}.WithOverrideForType(audioA).WithOverrideForType(text)
	q := p.WithOverrideForType(audioB)

	assert.Len(t, p.Overrides, 2, "original parameters must not change")
	assert.Len(t, q.Overrides, 2)

	got, ok := q.OverrideForType(TrackTypeAudio)
	assert.True(t, ok)
	assert.Equal(t, []int{2}, got.TrackIndices)

	got, ok = q.OverrideForType(TrackTypeText)
	assert.True(t, ok)
	assert.Equal(t, []int{1}, got.TrackIndices)

	_, ok = q.OverrideForType(TrackTypeVideo)
	assert.False(t, ok)
}

func TestMappedTrackInfoSupport(t *testing.T) {
	m := &MappedTrackInfo{Renderers: []RendererTracks{{
		Type:    TrackTypeAudio,
		Groups:  []TrackGroup{{Formats: []Format{{}, {}}}},
		Support: [][]int{{FormatHandled}},
	}}}
	assert.Equal(t, 1, m.RendererCount())
	assert.Equal(t, FormatHandled, m.TrackSupport(0, 0, 0))
	assert.Equal(t, FormatUnsupportedType, m.TrackSupport(0, 0, 1))
	assert.Equal(t, FormatUnsupportedType, m.TrackSupport(0, 3, 0))

	var nilMapping *MappedTrackInfo
	assert.Zero(t, nilMapping.RendererCount())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "buffering", StateBuffering.String())
	assert.Equal(t, "unknown", State(42).String())
}
