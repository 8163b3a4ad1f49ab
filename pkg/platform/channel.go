package platform

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-drift/videoplayer/pkg/event"
	"github.com/go-drift/videoplayer/pkg/player"
)

// EventChannelName returns the name of the event channel for a texture id.
func EventChannelName(textureID int64) string {
	return fmt.Sprintf("videoplayer/events/%d", textureID)
}

// EventHandler receives events from an EventChannel.
//
// OnEvent gets success events in their wire form ({"event": tag, ...}).
// OnError gets Error events out-of-band. Returning an error from either
// detaches the handler; undelivered events stay queued for the next Listen.
type EventHandler struct {
	OnEvent func(data map[string]any) error
	OnError func(code, message string) error
	// OnDone is called once when the subscription ends because the player
	// was disposed or another handler replaced it.
	OnDone func()
}

// Subscription represents an active listener on an event channel.
type Subscription struct {
	channel  *EventChannel
	handler  EventHandler
	reg      *event.Registration
	canceled atomic.Bool
}

// Cancel stops receiving events on this subscription. Events emitted
// afterwards are queued until the next Listen.
func (s *Subscription) Cancel() {
	if s.canceled.CompareAndSwap(false, true) {
		if s.reg != nil {
			s.reg.Cancel()
		}
		s.channel.removeSubscription(s)
	}
}

// IsCanceled returns true if this subscription has been canceled.
func (s *Subscription) IsCanceled() bool {
	return s.canceled.Load()
}

// EventChannel carries one player's events to at most one handler.
type EventChannel struct {
	name    string
	player  *player.Player
	metrics Metrics

	// listenMu serializes Listen so publishing a subscription and attaching
	// its sink happen as one step.
	listenMu sync.Mutex

	mu      sync.Mutex
	current *Subscription
	closed  bool
}

func newEventChannel(name string, p *player.Player, m Metrics) *EventChannel {
	return &EventChannel{name: name, player: p, metrics: m}
}

// Name returns the channel name.
func (c *EventChannel) Name() string {
	return c.name
}

// Listen makes handler the channel's only listener. Events emitted before
// any listener was attached are delivered to it first, in order. A previous
// listener is ended with OnDone.
func (c *EventChannel) Listen(handler EventHandler) (*Subscription, error) {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prev := c.current
	sub := &Subscription{channel: c, handler: handler}
	c.current = sub
	c.mu.Unlock()

	if prev != nil && prev.canceled.CompareAndSwap(false, true) {
		c.metrics.ObserverDetached()
		prev.done()
	}

	c.metrics.ObserverAttached()
	reg, err := c.player.Attach(subscriptionSink{sub})
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	c.mu.Lock()
	sub.reg = reg
	// close may have ended the subscription while it was attaching.
	ended := sub.IsCanceled()
	c.mu.Unlock()
	if ended {
		reg.Cancel()
		return nil, ErrClosed
	}
	return sub, nil
}

func (c *EventChannel) removeSubscription(sub *Subscription) {
	c.mu.Lock()
	removed := c.current == sub
	if removed {
		c.current = nil
	}
	c.mu.Unlock()
	if removed {
		c.metrics.ObserverDetached()
	}
}

// close ends the current subscription. Called when the player is disposed.
func (c *EventChannel) close() {
	c.mu.Lock()
	c.closed = true
	sub := c.current
	c.current = nil
	c.mu.Unlock()

	if sub != nil && sub.canceled.CompareAndSwap(false, true) {
		c.metrics.ObserverDetached()
		sub.done()
	}
}

func (s *Subscription) done() {
	runHandler(s.handler.OnDone)
}

// subscriptionSink adapts a Subscription to event.Sink.
type subscriptionSink struct {
	sub *Subscription
}

func (k subscriptionSink) Send(e event.Event) error {
	if k.sub.IsCanceled() {
		return ErrClosed
	}
	h := k.sub.handler
	deliver := func() error {
		if ev, ok := e.(event.Error); ok {
			if h.OnError != nil {
				return h.OnError(ev.Code, ev.Message)
			}
			return nil
		}
		if h.OnEvent != nil {
			return h.OnEvent(event.Encode(e))
		}
		return nil
	}

	k.sub.channel.metrics.EventDelivered(e.Name())
	return deliverEvent(deliver)
}
