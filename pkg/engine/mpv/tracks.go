package mpv

import (
	"strconv"

	"github.com/go-drift/videoplayer/pkg/engine"
)

// track is one entry of mpv's track-list property.
type track struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Lang     string `json:"lang"`
	Codec    string `json:"codec"`
	Selected bool   `json:"selected"`
	DemuxW   int    `json:"demux-w"`
	DemuxH   int    `json:"demux-h"`
}

var subtitleMimeTypes = map[string]string{
	"hdmv_pgs_subtitle": "application/pgs",
	"dvd_subtitle":      "application/vobsub",
	"subrip":            "application/x-subrip",
	"ass":               "text/x-ssa",
	"webvtt":            "text/vtt",
	"mov_text":          "application/x-quicktime-tx3g",
}

func mimeType(t track) string {
	switch t.Type {
	case "sub":
		if m, ok := subtitleMimeTypes[t.Codec]; ok {
			return m
		}
		return "text/x-" + t.Codec
	case "audio":
		return "audio/" + t.Codec
	default:
		return "video/" + t.Codec
	}
}

// mapTracks builds a three-renderer mapping (video, audio, text) with one
// group per mpv track, plus the matching selection state. mpv decodes
// everything it lists, so every track is reported as handled.
func mapTracks(list []track) (*engine.MappedTrackInfo, engine.Tracks) {
	m := &engine.MappedTrackInfo{Renderers: []engine.RendererTracks{
		rendererVideo: {Type: engine.TrackTypeVideo},
		rendererAudio: {Type: engine.TrackTypeAudio},
		rendererText:  {Type: engine.TrackTypeText},
	}}
	var tracks engine.Tracks

	for _, t := range list {
		var renderer int
		switch t.Type {
		case "video":
			renderer = rendererVideo
		case "audio":
			renderer = rendererAudio
		case "sub":
			renderer = rendererText
		default:
			continue
		}
		f := engine.Format{
			ID:             optional(strconv.FormatInt(t.ID, 10)),
			Language:       optional(t.Lang),
			Label:          optional(t.Title),
			SampleMimeType: mimeType(t),
			Width:          t.DemuxW,
			Height:         t.DemuxH,
		}
		r := &m.Renderers[renderer]
		r.Groups = append(r.Groups, engine.TrackGroup{Formats: []engine.Format{f}})
		r.Support = append(r.Support, []int{engine.FormatHandled})

		tracks.Groups = append(tracks.Groups, engine.TracksGroup{
			Type:      r.Type,
			Formats:   []engine.Format{f},
			Supported: []bool{true},
			Selected:  []bool{t.Selected},
		})
	}
	return m, tracks
}
