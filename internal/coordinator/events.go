package coordinator

import (
	"sync"
)

// emitter fans out coordinator events to subscribers. Handlers run
// synchronously on the goroutine that emits; a panicking handler is dropped
// from that delivery only.
type emitter struct {
	mu      sync.RWMutex
	nextID  int
	loaded  map[int]func(count int)
	errored map[int]func(err error)
}

func newEmitter() *emitter {
	return &emitter{
		loaded:  make(map[int]func(int)),
		errored: make(map[int]func(error)),
	}
}

func (e *emitter) onLoaded(fn func(count int)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.loaded[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.loaded, id)
	}
}

func (e *emitter) onError(fn func(err error)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.errored[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.errored, id)
	}
}

func (e *emitter) emitLoaded(count int) {
	e.mu.RLock()
	handlers := make([]func(int), 0, len(e.loaded))
	for _, fn := range e.loaded {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() { _ = recover() }()
			fn(count)
		}()
	}
}

func (e *emitter) emitError(err error) {
	e.mu.RLock()
	handlers := make([]func(error), 0, len(e.errored))
	for _, fn := range e.errored {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() { _ = recover() }()
			fn(err)
		}()
	}
}
