package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-drift/videoplayer/pkg/errors"
)

const namespace = "videoplayer"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 1, 3},
	}, []string{"method", "route"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Player commands handled, by method and result code.",
	}, []string{"method", "code"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Time spent handling a player command.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.25, 1},
	}, []string{"method"})

	EventsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_delivered_total",
		Help:      "Events handed to observers, by event name.",
	}, []string{"event"})

	ActivePlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_players",
		Help:      "Number of live players.",
	})

	ActiveObservers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_observers",
		Help:      "Number of attached event observers.",
	})

	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Commands rejected by the per-player rate limiter.",
	})

	HistoryWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_write_errors_total",
		Help:      "Playback history rows that could not be written.",
	})

	ReportedErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reported_errors_total",
		Help:      "Faults reported outside a call path, by kind.",
	}, []string{"kind"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CommandsTotal,
		CommandDuration,
		EventsDeliveredTotal,
		ActivePlayers,
		ActiveObservers,
		RateLimitedTotal,
		HistoryWriteErrors,
		ReportedErrorsTotal,
	)
}

// Recorder feeds plugin activity into the package collectors.
type Recorder struct{}

func (Recorder) CommandHandled(method, code string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(method, code).Inc()
	CommandDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (Recorder) EventDelivered(name string) {
	EventsDeliveredTotal.WithLabelValues(name).Inc()
}

func (Recorder) PlayersActive(n int) { ActivePlayers.Set(float64(n)) }

func (Recorder) ObserverAttached() { ActiveObservers.Inc() }

func (Recorder) ObserverDetached() { ActiveObservers.Dec() }

// ErrorCounter counts reported faults before passing them to Next.
type ErrorCounter struct {
	Next errors.ErrorHandler
}

func (c ErrorCounter) HandleError(err *errors.PlayerError) {
	if err == nil {
		return
	}
	ReportedErrorsTotal.WithLabelValues(err.Kind.String()).Inc()
	if c.Next != nil {
		c.Next.HandleError(err)
	}
}

func (c ErrorCounter) HandlePanic(err *errors.PanicError) {
	if err == nil {
		return
	}
	ReportedErrorsTotal.WithLabelValues(errors.KindPanic.String()).Inc()
	if c.Next != nil {
		c.Next.HandlePanic(err)
	}
}
