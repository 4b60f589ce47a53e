package engine

import "sync"

// UpdateEvent is the event name every engine publishes after each cache
// push and each completed tick.
const UpdateEvent = "update"

// Handler receives a snapshot copy. Handlers run on the emitting goroutine
// and should return quickly.
type Handler func(Snapshot)

// emitter is a small observer registry. Subscription ids come from a
// monotonic counter so Off never removes the wrong handler.
type emitter struct {
	mu       sync.Mutex
	next     int
	handlers map[string]map[int]Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[string]map[int]Handler)}
}

// On registers a handler for an event and returns its subscription id.
func (e *emitter) On(event string, fn Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	m, ok := e.handlers[event]
	if !ok {
		m = make(map[int]Handler)
		e.handlers[event] = m
	}
	m[e.next] = fn
	return e.next
}

// Off removes a subscription. Unknown ids are ignored.
func (e *emitter) Off(event string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.handlers[event]; ok {
		delete(m, id)
	}
}

// emit calls every handler registered for the event. The handler set is
// copied first so a handler may subscribe or unsubscribe during delivery.
func (e *emitter) emit(event string, s Snapshot) {
	e.mu.Lock()
	m := e.handlers[event]
	fns := make([]Handler, 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
