// Package server exposes a platform.Plugin over HTTP: method calls as JSON
// requests and each player's event channel as a WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/go-drift/videoplayer/internal/history"
	"github.com/go-drift/videoplayer/internal/metrics"
	"github.com/go-drift/videoplayer/pkg/platform"
)

// maxBody bounds a method call's JSON arguments.
const maxBody = 1 << 20

// HistoryReader lists recent playback sessions.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type Server struct {
	plugin       *platform.Plugin
	history      HistoryReader
	historyLimit int
	gatherer     prometheus.Gatherer
	logger       logrus.FieldLogger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	clients  map[*wsClient]struct{}

	handler http.Handler
}

type ServerOption func(*Server)

func WithHistory(h HistoryReader, limit int) ServerOption {
	return func(s *Server) {
		s.history = h
		s.historyLimit = limit
	}
}

// WithRateLimit limits each player to rps commands per second.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.limit = rate.Limit(rps)
		s.burst = burst
	}
}

func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(plugin *platform.Plugin, opts ...ServerOption) *Server {
	s := &Server{
		plugin:       plugin,
		historyLimit: 50,
		limit:        rate.Inf,
		limiters:     make(map[int64]*rate.Limiter),
		clients:      make(map[*wsClient]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/players", s.handleListPlayers)
	mux.HandleFunc("POST /v1/players", s.handleCreate)
	mux.HandleFunc("DELETE /v1/players/{id}", s.handleDispose)
	mux.HandleFunc("POST /v1/players/{id}/{method}", s.handlePlayerCall)
	mux.HandleFunc("GET /v1/players/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/methods/{method}", s.handleMethod)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "videoplayerd",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, metricsMiddleware(traced))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "players": len(s.plugin.Players())})
}

func (s *Server) handleListPlayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"players": s.plugin.Players()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	args, ok := readArgs(w, r)
	if !ok {
		return
	}
	result, err := s.plugin.HandleMethodCall(r.Context(), "create", args)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.call(w, r, "dispose", map[string]any{"textureId": id})
}

func (s *Server) handlePlayerCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	method := r.PathValue("method")
	if method == "create" || method == "init" || method == "setMixWithOthers" {
		writeError(w, http.StatusNotFound, platform.CodeNotImplemented, method+" is not a player method")
		return
	}
	if !s.allow(id) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}
	args, ok := readArgs(w, r)
	if !ok {
		return
	}
	args["textureId"] = id
	s.call(w, r, method, args)
}

// handleMethod forwards raw JSON arguments, for plugin-wide methods such as
// init and setMixWithOthers.
func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, platform.CodeInvalidArguments, err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("null")
	}
	method := r.PathValue("method")
	out, err := s.plugin.HandleMethodCallData(r.Context(), method, body)
	if err != nil {
		writeCallError(w, err)
		return
	}
	if method == "init" {
		s.forgetAll()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) call(w http.ResponseWriter, r *http.Request, method string, args map[string]any) {
	result, err := s.plugin.HandleMethodCall(r.Context(), method, args)
	if method == "dispose" {
		s.forget(args["textureId"].(int64))
	}
	if err != nil {
		writeCallError(w, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, platform.CodeNotImplemented, "history is disabled")
		return
	}
	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, platform.CodeInvalidArguments, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Warn("history query failed")
		writeError(w, http.StatusInternalServerError, platform.CodeInternal, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) allow(id int64) bool {
	if s.limit == rate.Inf {
		return true
	}
	s.mu.Lock()
	l, ok := s.limiters[id]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[id] = l
	}
	s.mu.Unlock()
	if l.Allow() {
		return true
	}
	metrics.RateLimitedTotal.Inc()
	return false
}

func (s *Server) forget(id int64) {
	s.mu.Lock()
	delete(s.limiters, id)
	s.mu.Unlock()
}

func (s *Server) forgetAll() {
	s.mu.Lock()
	s.limiters = make(map[int64]*rate.Limiter)
	s.mu.Unlock()
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, platform.CodeInvalidArguments, "player id must be an integer")
		return 0, false
	}
	return id, true
}

// readArgs decodes an optional JSON object body.
func readArgs(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	args := map[string]any{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, platform.CodeInvalidArguments, "body must be a JSON object")
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

type errorEnvelope struct {
	Error *platform.ChannelError `json:"error"`
}

var statusByCode = map[string]int{
	platform.CodeUnsupportedFormat: http.StatusUnprocessableEntity,
	platform.CodeDisposed:          http.StatusGone,
	platform.CodeNotFound:          http.StatusNotFound,
	platform.CodeInvalidArguments:  http.StatusBadRequest,
	platform.CodeNotImplemented:    http.StatusNotImplemented,
	platform.CodeClosed:            http.StatusServiceUnavailable,
}

func writeCallError(w http.ResponseWriter, err error) {
	ce := platform.AsChannelError(err)
	status, ok := statusByCode[ce.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorEnvelope{Error: ce})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: platform.NewChannelError(code, message)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
