package platform

import "time"

// Metrics receives plugin activity counts. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CommandHandled(method string, code string, elapsed time.Duration)
	EventDelivered(name string)
	PlayersActive(n int)
	ObserverAttached()
	ObserverDetached()
}

type nopMetrics struct{}

func (nopMetrics) CommandHandled(string, string, time.Duration) {}
func (nopMetrics) EventDelivered(string)                        {}
func (nopMetrics) PlayersActive(int)                            {}
func (nopMetrics) ObserverAttached()                            {}
func (nopMetrics) ObserverDetached()                            {}
