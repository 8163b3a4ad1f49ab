package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/errors"
	"github.com/go-drift/videoplayer/pkg/player"
	"github.com/go-drift/videoplayer/pkg/source"
	"github.com/go-drift/videoplayer/pkg/tracks"
)

const tracerName = "github.com/go-drift/videoplayer/pkg/platform"

// Options configure a Plugin.
type Options struct {
	// Factory builds the engine for each new player. Required.
	Factory engine.Factory
	// Resolver classifies sources; its UserAgent is the default user agent.
	Resolver source.Resolver
	// Textures allocates rendering targets. Defaults to HeadlessTextures.
	Textures TextureRegistry
	// MixWithOthers is the initial audio mixing option.
	MixWithOthers bool

	Logger  logrus.FieldLogger
	Metrics Metrics
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
	// OnSessionEnd receives a summary of each player as it is disposed.
	OnSessionEnd func(player.Summary)
}

// Plugin owns every live player and routes host method calls to them.
type Plugin struct {
	factory      engine.Factory
	resolver     source.Resolver
	textures     TextureRegistry
	logger       logrus.FieldLogger
	metrics      Metrics
	tracer       trace.Tracer
	onSessionEnd func(player.Summary)

	mu            sync.RWMutex
	sessions      map[int64]*session
	mixWithOthers bool
	closed        bool
}

type session struct {
	player  *player.Player
	texture TextureEntry
	events  *EventChannel
}

// NewPlugin creates a plugin with no players.
func NewPlugin(opts Options) *Plugin {
	p := &Plugin{
		factory:       opts.Factory,
		resolver:      opts.Resolver,
		textures:      opts.Textures,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		onSessionEnd:  opts.OnSessionEnd,
		sessions:      make(map[int64]*session),
		mixWithOthers: opts.MixWithOthers,
	}
	if p.textures == nil {
		p.textures = &HeadlessTextures{}
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// HandleMethodCallData decodes args with DefaultCodec, handles the call, and
// encodes the result.
func (p *Plugin) HandleMethodCallData(ctx context.Context, method string, argsData []byte) ([]byte, error) {
	args, err := DefaultCodec.Decode(argsData)
	if err != nil {
		errors.Report(&errors.PlayerError{
			Op:   "platform.HandleMethodCallData",
			Kind: errors.KindParsing,
			Err:  err,
		})
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	result, err := p.HandleMethodCall(ctx, method, args)
	if err != nil {
		return nil, err
	}
	return DefaultCodec.Encode(result)
}

// HandleMethodCall runs one host command. args is the decoded argument map.
func (p *Plugin) HandleMethodCall(ctx context.Context, method string, args any) (result any, err error) {
	ctx, span := p.tracer.Start(ctx, "videoplayer."+method,
		trace.WithAttributes(attribute.String("videoplayer.method", method)))
	start := time.Now()
	defer func() {
		code := "ok"
		if ce := AsChannelError(err); ce != nil {
			code = ce.Code
			span.RecordError(err)
			span.SetStatus(codes.Error, ce.Code)
		}
		p.metrics.CommandHandled(method, code, time.Since(start))
		span.End()
	}()

	a, err := newArguments(args)
	if err != nil {
		return nil, err
	}

	switch method {
	case "init":
		p.disposeAll()
		return nil, nil
	case "create":
		return p.create(ctx, a)
	case "setMixWithOthers":
		mix, err := a.boolValue("mixWithOthers")
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.mixWithOthers = mix
		p.mu.Unlock()
		return nil, nil
	}

	id, err := a.int64Value("textureId")
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("videoplayer.texture_id", id))

	if method == "dispose" {
		return nil, p.dispose(id)
	}

	s, err := p.session(id)
	if err != nil {
		return nil, err
	}
	pl := s.player

	switch method {
	case "play":
		return nil, pl.Play()
	case "pause":
		return nil, pl.Pause()
	case "setLooping":
		looping, err := a.boolValue("looping")
		if err != nil {
			return nil, err
		}
		return nil, pl.SetLooping(looping)
	case "setVolume":
		v, err := a.floatValue("volume")
		if err != nil {
			return nil, err
		}
		return nil, pl.SetVolume(v)
	case "setPlaybackSpeed":
		v, err := a.floatValue("speed")
		if err != nil {
			return nil, err
		}
		return nil, pl.SetPlaybackSpeed(v)
	case "seekTo":
		pos, err := a.int64Value("position")
		if err != nil {
			return nil, err
		}
		return nil, pl.SeekTo(pos)
	case "position":
		pos, err := pl.Position()
		if err != nil {
			return nil, err
		}
		return map[string]any{"textureId": id, "position": pos}, nil
	case "getTracks":
		audio, subtitles, err := pl.Tracks()
		if err != nil {
			return nil, err
		}
		return map[string]any{"textureId": id, "audioTracks": audio, "subtitleTracks": subtitles}, nil
	case "selectTrack":
		var ref tracks.Ref
		if ref.Renderer, err = a.intValue("renderer"); err != nil {
			return nil, err
		}
		if ref.Group, err = a.intValue("group"); err != nil {
			return nil, err
		}
		if ref.Index, err = a.intValue("index"); err != nil {
			return nil, err
		}
		return nil, pl.SelectTrack(ref)
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

func (p *Plugin) create(ctx context.Context, a arguments) (any, error) {
	uri, err := a.optionalString("uri")
	if err != nil {
		return nil, err
	}
	asset, err := a.optionalString("asset")
	if err != nil {
		return nil, err
	}
	target, ok := uri.Get()
	if !ok {
		if path, hasAsset := asset.Get(); hasAsset {
			target, ok = "asset:///"+path, true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: create needs uri or asset", ErrInvalidArguments)
	}
	hint, err := a.optionalString("formatHint")
	if err != nil {
		return nil, err
	}
	headers, err := a.stringMap("httpHeaders")
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	closed, mix := p.closed, p.mixWithOthers
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if p.factory == nil {
		return nil, fmt.Errorf("platform: no engine factory configured")
	}

	texture, err := p.textures.CreateSurfaceTexture()
	if err != nil {
		return nil, fmt.Errorf("platform: create texture: %w", err)
	}
	id := texture.ID()
	channel := EventChannelName(id)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("videoplayer.texture_id", id))

	pl, err := player.New(player.Options{
		ID:            id,
		Channel:       channel,
		URI:           target,
		FormatHint:    hint,
		Headers:       headers,
		Resolver:      p.resolver,
		Factory:       p.factory,
		Surface:       texture.Surface(),
		MixWithOthers: mix,
		Logger:        p.logger,
		OnDisposed:    p.onSessionEnd,
	})
	if err != nil {
		texture.Release()
		kind := errors.KindInit
		if stderrors.Is(err, source.ErrUnsupportedFormat) {
			kind = errors.KindSource
		}
		errors.Report(&errors.PlayerError{
			Op:       "platform.create",
			Kind:     kind,
			Channel:  channel,
			PlayerID: id,
			Err:      err,
		})
		return nil, err
	}

	s := &session{player: pl, texture: texture, events: newEventChannel(channel, pl, p.metrics)}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.release(s)
		return nil, ErrClosed
	}
	p.sessions[id] = s
	n := len(p.sessions)
	p.mu.Unlock()

	p.metrics.PlayersActive(n)
	p.logger.WithFields(logrus.Fields{"player": id, "uri": target}).Info("player created")
	return map[string]any{"textureId": id}, nil
}

func (p *Plugin) session(id int64) (*session, error) {
	p.mu.RLock()
	s := p.sessions[id]
	p.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrPlayerNotFound, id)
	}
	return s, nil
}

// Listen attaches handler to a player's event channel.
func (p *Plugin) Listen(textureID int64, handler EventHandler) (*Subscription, error) {
	s, err := p.session(textureID)
	if err != nil {
		return nil, err
	}
	return s.events.Listen(handler)
}

// Players returns the ids of the live players in ascending order.
func (p *Plugin) Players() []int64 {
	p.mu.RLock()
	ids := make([]int64, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Plugin) dispose(id int64) error {
	p.mu.Lock()
	s := p.sessions[id]
	delete(p.sessions, id)
	n := len(p.sessions)
	p.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %d", ErrPlayerNotFound, id)
	}
	p.release(s)
	p.metrics.PlayersActive(n)
	p.logger.WithField("player", id).Info("player disposed")
	return nil
}

func (p *Plugin) release(s *session) {
	s.player.Dispose()
	s.events.close()
	s.texture.Release()
}

func (p *Plugin) disposeAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[int64]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		p.release(s)
	}
	p.metrics.PlayersActive(0)
}

// Close disposes every player and rejects later creates.
func (p *Plugin) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.disposeAll()
}
