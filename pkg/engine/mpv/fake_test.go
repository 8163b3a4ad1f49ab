package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
)

// fakeMPV answers IPC commands on the far end of a net.Pipe.
type fakeMPV struct {
	t    *testing.T
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu       sync.Mutex
	props    map[string]any
	failures map[string]string
	silent   map[string]bool

	commands chan []any
}

func newFakeMPV(t *testing.T) (*fakeMPV, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	f := &fakeMPV{
		t:        t,
		conn:     server,
		enc:      json.NewEncoder(server),
		props:    map[string]any{"mpv-version": "mpv 0.37.0"},
		failures: map[string]string{},
		silent:   map[string]bool{},
		commands: make(chan []any, 256),
	}
	go f.serve()
	t.Cleanup(func() { server.Close() })
	return f, client
}

func (f *fakeMPV) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.commands <- req.Command
		name, _ := req.Command[0].(string)

		f.mu.Lock()
		silent := f.silent[name]
		failure := f.failures[name]
		var data any
		if name == "get_property" && len(req.Command) > 1 {
			prop, _ := req.Command[1].(string)
			data = f.props[prop]
		}
		f.mu.Unlock()

		if silent {
			continue
		}
		reply := map[string]any{"request_id": req.RequestID, "error": "success", "data": data}
		if failure != "" {
			reply["error"] = failure
		}
		if err := f.write(reply); err != nil {
			return
		}
	}
}

func (f *fakeMPV) write(v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.enc.Encode(v)
}

// emit pushes an event to the engine.
func (f *fakeMPV) emit(ev map[string]any) {
	f.t.Helper()
	require.NoError(f.t, f.write(ev))
}

func (f *fakeMPV) property(name string, data any) {
	f.t.Helper()
	f.emit(map[string]any{"event": "property-change", "name": name, "data": data})
}

func (f *fakeMPV) fail(command, reason string) {
	f.mu.Lock()
	f.failures[command] = reason
	f.mu.Unlock()
}

func (f *fakeMPV) ignore(command string) {
	f.mu.Lock()
	f.silent[command] = true
	f.mu.Unlock()
}

// next returns the next command the engine sent whose name is in names.
func (f *fakeMPV) next(names ...string) []any {
	f.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case cmd := <-f.commands:
			for _, n := range names {
				if cmd[0] == n {
					return cmd
				}
			}
		case <-deadline:
			f.t.Fatalf("no %v command within 2s", names)
			return nil
		}
	}
}

// drain collects the commands already received.
func (f *fakeMPV) drain() [][]any {
	var out [][]any
	for {
		select {
		case cmd := <-f.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

// listener records engine callbacks in order.
type listener struct {
	calls chan any
}

type tracksChanged struct{ engine.Tracks }

type playingChanged bool

func newListener() *listener { return &listener{calls: make(chan any, 64)} }

func (l *listener) OnPlaybackStateChanged(s engine.State) { l.calls <- s }
func (l *listener) OnPlayerError(err error)               { l.calls <- err }
func (l *listener) OnIsPlayingChanged(v bool)             { l.calls <- playingChanged(v) }
func (l *listener) OnTracksChanged(t engine.Tracks)       { l.calls <- tracksChanged{t} }

func (l *listener) next(t *testing.T) any {
	t.Helper()
	select {
	case c := <-l.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no listener callback within 2s")
		return nil
	}
}

func (l *listener) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-l.calls:
		t.Fatalf("unexpected callback %#v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	fake     *fakeMPV
	engine   *Engine
	listener *listener
}

func newHarness(t *testing.T, desc source.Description) *harness {
	t.Helper()
	fake, client := newFakeMPV(t)
	logger, _ := test.NewNullLogger()
	e := New(client, desc, Options{Logger: logger, Timeout: 2 * time.Second, AssetRoot: "/srv/assets"})
	t.Cleanup(e.Release)
	l := newListener()
	e.AddListener(l)
	return &harness{fake: fake, engine: e, listener: l}
}

// prepared returns a harness whose engine has loaded desc and reported
// Buffering.
func prepared(t *testing.T, desc source.Description) *harness {
	t.Helper()
	h := newHarness(t, desc)
	require.NoError(t, h.engine.Prepare())
	require.Equal(t, engine.StateBuffering, h.listener.next(t))
	h.fake.drain()
	return h
}

// start plays the file up to its first decoded frame. The movie has no
// track-list, so no geometry is awaited.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.fake.emit(map[string]any{"event": "file-loaded"})
	h.fake.emit(map[string]any{"event": "playback-restart"})
	require.Equal(t, engine.StateReady, h.listener.next(t))
}
