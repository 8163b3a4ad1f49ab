package platform

import "sync/atomic"

// hostDispatcher is the host's scheduler for event handler callbacks. Nil
// means handlers run inline on the delivering player's session goroutine.
var hostDispatcher atomic.Pointer[func(callback func())]

// RegisterDispatch routes EventHandler callbacks (OnEvent, OnError, OnDone)
// through fn, for hosts whose handlers must run on a UI thread. fn must run
// callbacks in the order it receives them, or player events reach the host
// out of order. Passing nil restores inline delivery.
func RegisterDispatch(fn func(callback func())) {
	if fn == nil {
		hostDispatcher.Store(nil)
		return
	}
	hostDispatcher.Store(&fn)
}

// Dispatch hands callback to the registered host dispatcher and reports
// whether it did. It returns false when no dispatcher is registered or
// callback is nil.
func Dispatch(callback func()) bool {
	fn := hostDispatcher.Load()
	if fn == nil || callback == nil {
		return false
	}
	(*fn)(callback)
	return true
}

// runHandler runs a handler callback on the host's thread when one is
// registered, or inline otherwise.
func runHandler(callback func()) {
	if callback == nil {
		return
	}
	if !Dispatch(callback) {
		callback()
	}
}

// deliverEvent runs deliver the way runHandler does. Inline delivery
// returns the handler's error so the event queue keeps a rejected event.
// A dispatched handler's error has no way back to the queue and is dropped.
func deliverEvent(deliver func() error) error {
	if Dispatch(func() { _ = deliver() }) {
		return nil
	}
	return deliver()
}
