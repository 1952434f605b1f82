package transport

import (
	"sync"
)

type emitter struct {
	mu        sync.RWMutex
	callbacks map[string][]*Callback
	global    []GlobalHandler
}

func newEmitter() *emitter {
	return &emitter{
		callbacks: make(map[string][]*Callback),
	}
}

func (e *emitter) bind(event string, cb *Callback) {
	if cb == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.callbacks[event] = append(e.callbacks[event], cb)
}

// unbind removes cb from event. A nil cb removes every callback for event.
func (e *emitter) unbind(event string, cb *Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb == nil {
		delete(e.callbacks, event)
		return
	}

	callbacks := e.callbacks[event]
	for i, registered := range callbacks {
		if registered == cb {
			callbacks = append(callbacks[:i:i], callbacks[i+1:]...)
			break
		}
	}

	if len(callbacks) == 0 {
		delete(e.callbacks, event)
	} else {
		e.callbacks[event] = callbacks
	}
}

func (e *emitter) bindAll(handler GlobalHandler) {
	if handler == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.global = append(e.global, handler)
}

func (e *emitter) emit(event string, data interface{}) {
	e.mu.RLock()
	callbacks := append([]*Callback(nil), e.callbacks[event]...)
	global := append([]GlobalHandler(nil), e.global...)
	e.mu.RUnlock()

	for _, cb := range callbacks {
		cb.Call(data)
	}
	for _, handler := range global {
		handler(event, data)
	}
}

func (e *emitter) count(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.callbacks[event])
}

func (e *emitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.callbacks = make(map[string][]*Callback)
	e.global = nil
}
