// Package source resolves a media URI and optional format hint into the
// description a media engine is constructed with.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// DefaultUserAgent is sent when the caller supplies no User-Agent header.
const DefaultUserAgent = "ExoPlayer"

// Format hints accepted by Resolve.
const (
	HintSmoothStreaming = "ss"
	HintDASH            = "dash"
	HintHLS             = "hls"
	HintOther           = "other"
)

// ErrUnsupportedFormat is returned when neither the hint nor the URI yields a
// source type the engine can play.
var ErrUnsupportedFormat = errors.New("source: unsupported format")

// Type is the container or streaming protocol of a source.
type Type int

const (
	// Progressive is a plain media file read front to back.
	Progressive Type = iota
	// SmoothStreaming is a Microsoft Smooth Streaming manifest.
	SmoothStreaming
	// DASH is an MPEG-DASH manifest.
	DASH
	// HLS is an HTTP Live Streaming playlist.
	HLS
)

var typeNames = [...]string{"progressive", "smoothstreaming", "dash", "hls"}

func (t Type) String() string {
	if int(t) < len(typeNames) && t >= 0 {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Hint returns the format hint that selects t.
func (t Type) Hint() string {
	switch t {
	case SmoothStreaming:
		return HintSmoothStreaming
	case DASH:
		return HintDASH
	case HLS:
		return HintHLS
	default:
		return HintOther
	}
}

// Description is everything an engine needs to open a source.
type Description struct {
	URI     string
	Type    Type
	Headers map[string]string
	// UserAgent is the User-Agent header value, or the resolver default.
	UserAgent                   string
	AllowCrossProtocolRedirects bool
}

// Resolver builds source descriptions. The zero value uses DefaultUserAgent.
type Resolver struct {
	UserAgent string
}

// Resolve uses a zero Resolver.
func Resolve(uri string, hint mo.Option[string], headers map[string]string) (Description, error) {
	return Resolver{}.Resolve(uri, hint, headers)
}

// Resolve classifies uri, using hint when present and inferring from the URI
// otherwise. It never performs I/O.
func (r Resolver) Resolve(uri string, hint mo.Option[string], headers map[string]string) (Description, error) {
	u, err := parse(uri)
	if err != nil {
		return Description{}, err
	}

	var typ Type
	if h, ok := hint.Get(); ok {
		typ, err = ParseHint(h)
	} else {
		typ, err = infer(u)
	}
	if err != nil {
		return Description{}, err
	}

	ua := r.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	if k, ok := lo.FindKeyBy(headers, func(k, _ string) bool {
		return strings.EqualFold(k, "User-Agent")
	}); ok {
		ua = headers[k]
	}

	return Description{
		URI:                         uri,
		Type:                        typ,
		Headers:                     lo.Assign(map[string]string{}, headers),
		UserAgent:                   ua,
		AllowCrossProtocolRedirects: true,
	}, nil
}

// ParseHint maps an explicit format hint to a Type.
func ParseHint(hint string) (Type, error) {
	switch hint {
	case HintSmoothStreaming:
		return SmoothStreaming, nil
	case HintDASH:
		return DASH, nil
	case HintHLS:
		return HLS, nil
	case HintOther:
		return Progressive, nil
	default:
		return 0, fmt.Errorf("%w: hint %q", ErrUnsupportedFormat, hint)
	}
}

// Infer classifies uri from its structure alone.
func Infer(uri string) (Type, error) {
	u, err := parse(uri)
	if err != nil {
		return 0, err
	}
	return infer(u)
}

var streamableSchemes = map[string]bool{
	"":        true,
	"http":    true,
	"https":   true,
	"file":    true,
	"content": true,
	"asset":   true,
	"data":    true,
}

func parse(uri string) (*url.URL, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrUnsupportedFormat)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if !streamableSchemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedFormat, u.Scheme)
	}
	return u, nil
}

// ismPath matches Smooth Streaming manifest paths such as
// "/video.ism/Manifest(format=m3u8-aapl)".
var ismPath = regexp.MustCompile(`(?i)^(?:.*\.)?isml?(?:/(manifest(.*))?)?$`)

func infer(u *url.URL) (Type, error) {
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if p == "" {
		return Progressive, nil
	}

	switch strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(p)), ".")) {
	case "mpd":
		return DASH, nil
	case "m3u8":
		return HLS, nil
	case "ism", "isml":
		return SmoothStreaming, nil
	}

	if m := ismPath.FindStringSubmatch(p); m != nil {
		switch ext := strings.ToLower(m[2]); {
		case strings.Contains(ext, "format=mpd-time-csf"):
			return DASH, nil
		case strings.Contains(ext, "format=m3u8-aapl"):
			return HLS, nil
		default:
			return SmoothStreaming, nil
		}
	}
	return Progressive, nil
}
