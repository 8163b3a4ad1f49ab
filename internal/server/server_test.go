package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/videoplayer/internal/history"
	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/engine/enginetest"
	"github.com/go-drift/videoplayer/pkg/platform"
)

type fakeHistory struct {
	entries []history.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	pool   *enginetest.Pool
	plugin *platform.Plugin
}

func newFixture(t *testing.T, opts ...ServerOption) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	pool := &enginetest.Pool{}
	plugin := platform.NewPlugin(platform.Options{Factory: pool.Factory(), Logger: logger})
	opts = append([]ServerOption{WithLogger(logger), WithGatherer(prometheus.NewRegistry())}, opts...)
	srv := New(plugin, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		plugin.Close()
	})
	return &fixture{srv: srv, ts: ts, pool: pool, plugin: plugin}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (f *fixture) create(t *testing.T, uri string) int64 {
	t.Helper()
	resp, out := f.do(t, http.MethodPost, "/v1/players", `{"uri":"`+uri+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return int64(out["textureId"].(float64))
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	return env["code"].(string)
}

func TestServer_PlayerLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "https://example.com/movie.mp4")
	path := "/v1/players/" + strconv.FormatInt(id, 10)

	resp, _ := f.do(t, http.MethodPost, path+"/play", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.pool.Last().PlayWhenReady())

	resp, _ = f.do(t, http.MethodPost, path+"/seekTo", `{"position":4000}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out := f.do(t, http.MethodPost, path+"/position", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4000), out["position"])
	assert.Equal(t, float64(id), out["textureId"])

	_, out = f.do(t, http.MethodGet, "/v1/players", "")
	assert.Equal(t, []any{float64(id)}, out["players"])

	resp, _ = f.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = f.do(t, http.MethodPost, path+"/play", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, platform.CodeNotFound, errorCode(t, out))
}

func TestServer_ErrorStatus(t *testing.T) {
	f := newFixture(t)
	id := strconv.FormatInt(f.create(t, "https://example.com/a.mp4"), 10)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/v1/players", `{"uri":`, http.StatusBadRequest, platform.CodeInvalidArguments},
		{"unsupported scheme", http.MethodPost, "/v1/players", `{"uri":"rtsp://cam/1"}`, http.StatusUnprocessableEntity, platform.CodeUnsupportedFormat},
		{"missing source", http.MethodPost, "/v1/players", `{}`, http.StatusBadRequest, platform.CodeInvalidArguments},
		{"non-numeric id", http.MethodPost, "/v1/players/abc/play", "", http.StatusBadRequest, platform.CodeInvalidArguments},
		{"unknown method", http.MethodPost, "/v1/players/" + id + "/rewind", "", http.StatusNotImplemented, platform.CodeNotImplemented},
		{"plugin method on player", http.MethodPost, "/v1/players/" + id + "/init", "", http.StatusNotFound, platform.CodeNotImplemented},
		{"bad volume", http.MethodPost, "/v1/players/" + id + "/setVolume", `{"volume":"loud"}`, http.StatusBadRequest, platform.CodeInvalidArguments},
		{"dispose unknown", http.MethodDelete, "/v1/players/99", "", http.StatusNotFound, platform.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, out))
		})
	}
}

func TestServer_RateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 1))
	path := "/v1/players/" + strconv.FormatInt(f.create(t, "https://example.com/a.mp4"), 10)

	resp, _ := f.do(t, http.MethodPost, path+"/play", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out := f.do(t, http.MethodPost, path+"/pause", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorCode(t, out))

	// Each player has its own budget.
	other := "/v1/players/" + strconv.FormatInt(f.create(t, "https://example.com/b.mp4"), 10)
	resp, _ = f.do(t, http.MethodPost, other+"/play", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_PluginMethods(t *testing.T) {
	f := newFixture(t)
	f.create(t, "https://example.com/a.mp4")

	resp, err := http.Post(f.ts.URL+"/v1/methods/setMixWithOthers", "application/json", strings.NewReader(`{"mixWithOthers":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(f.ts.URL+"/v1/methods/init", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.plugin.Players())

	f.create(t, "https://example.com/b.mp4")
	_, handleFocus := f.pool.Last().AudioAttributes()
	assert.False(t, handleFocus)

	resp, out := f.do(t, http.MethodPost, "/v1/methods/create", `{"uri":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, platform.CodeInvalidArguments, errorCode(t, out))
}

func TestServer_History(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/v1/history", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("entries", func(t *testing.T) {
		h := &fakeHistory{entries: []history.Entry{{ID: 1, URI: "https://example.com/a.mp4", PositionMs: 1200}}}
		f := newFixture(t, WithHistory(h, 20))

		resp, out := f.do(t, http.MethodGet, "/v1/history", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 20, h.limit)
		entries := out["entries"].([]any)
		require.Len(t, entries, 1)
		assert.Equal(t, "https://example.com/a.mp4", entries[0].(map[string]any)["uri"])

		f.do(t, http.MethodGet, "/v1/history?limit=5", "")
		assert.Equal(t, 5, h.limit)

		resp, _ = f.do(t, http.MethodGet, "/v1/history?limit=-1", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, WithHistory(&fakeHistory{err: errors.New("disk full")}, 20))
		resp, out := f.do(t, http.MethodGet, "/v1/history", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, platform.CodeInternal, errorCode(t, out))
	})
}

func TestServer_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.create(t, "https://example.com/a.mp4")

	resp, out := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(1), out["players"])

	resp, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dialEvents(t *testing.T, f *fixture, id int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/players/" + strconv.FormatInt(id, 10) + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func TestServer_EventStream(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "https://example.com/a.mp4")
	e := f.pool.Last()
	e.SetDuration(30000)

	// Fired before the observer connects; replayed on connect.
	e.FireState(engine.StateBuffering)
	conn := dialEvents(t, f, id)

	assert.Equal(t, "bufferingStart", readEvent(t, conn)["event"])
	assert.Equal(t, "bufferingUpdate", readEvent(t, conn)["event"])

	e.FireState(engine.StateReady)
	assert.Equal(t, "bufferingEnd", readEvent(t, conn)["event"])
	ready := readEvent(t, conn)
	assert.Equal(t, "initialized", ready["event"])
	assert.Equal(t, float64(30000), ready["duration"])

	e.FireError(errors.New("decoder crashed"))
	failure := readEvent(t, conn)
	assert.Equal(t, map[string]any{"code": "VideoError", "message": "Video player had error decoder crashed"}, failure["error"])

	resp, _ := f.do(t, http.MethodDelete, "/v1/players/"+strconv.FormatInt(id, 10), "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ce := readClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, closeDisposed, ce.Text)
}

func TestServer_EventStreamReplaced(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "https://example.com/a.mp4")

	first := dialEvents(t, f, id)
	second := dialEvents(t, f, id)

	ce := readClose(t, first)
	assert.Equal(t, closeReplaced, ce.Text)

	f.pool.Last().FireIsPlaying(true)
	ev := readEvent(t, second)
	assert.Equal(t, "isPlayingStateUpdate", ev["event"])
}

func TestServer_EventStreamFlushesBeforeReplace(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "https://example.com/a.mp4")
	first := dialEvents(t, f, id)

	e := f.pool.Last()
	e.FireIsPlaying(true)
	e.FireIsPlaying(false)
	resp, _ := f.do(t, http.MethodPost, "/v1/players/"+strconv.FormatInt(id, 10)+"/position", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dialEvents(t, f, id)

	assert.Equal(t, true, readEvent(t, first)["isPlaying"])
	assert.Equal(t, false, readEvent(t, first)["isPlaying"])
	assert.Equal(t, closeReplaced, readClose(t, first).Text)
}

func TestServer_EventStreamUnknownPlayer(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/players/7/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CloseDisconnectsObservers(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f, f.create(t, "https://example.com/a.mp4"))

	require.Eventually(t, func() bool {
		f.srv.mu.Lock()
		defer f.srv.mu.Unlock()
		return len(f.srv.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.srv.Close()
	ce := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, closeShutdown, ce.Text)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := recoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/players", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "panic recovered", hook.LastEntry().Message)
}

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/healthz":             "/healthz",
		"/v1/players":          "/v1/players",
		"/v1/players/12":       "/v1/players/:id",
		"/v1/players/12/play":  "/v1/players/:id/play",
		"/v1/players/3/events": "/v1/players/:id/events",
		"/v1/players/3/a/b":    "/other",
		"/v1/methods/init":     "/v1/methods/init",
		"/v1/history":          "/v1/history",
		"/favicon.ico":         "/other",
	}
	for path, want := range tests {
		assert.Equal(t, want, normalizeRoute(path), path)
	}
}
