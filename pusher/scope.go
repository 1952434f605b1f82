package pusher

import (
	"context"
	"sync"
)

// Scope is a lifetime token. Cleanups registered with OnDestroy run once,
// in registration order, when the scope is destroyed.
type Scope struct {
	mu        sync.Mutex
	cleanups  []func()
	destroyed bool
}

func NewScope() *Scope {
	return &Scope{}
}

// NewScopeFromContext returns a scope destroyed when ctx is done.
func NewScopeFromContext(ctx context.Context) *Scope {
	s := NewScope()
	stop := context.AfterFunc(ctx, s.Destroy)
	s.OnDestroy(func() { stop() })
	return s
}

// Child returns a scope destroyed together with s.
func (s *Scope) Child() *Scope {
	child := NewScope()
	s.OnDestroy(child.Destroy)
	return child
}

// OnDestroy registers fn. If the scope is already destroyed fn runs
// immediately and OnDestroy reports false.
func (s *Scope) OnDestroy(fn func()) bool {
	if fn == nil {
		return false
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		fn()
		return false
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()

	return true
}

// Destroy runs the registered cleanups. Later calls do nothing.
func (s *Scope) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
}

func (s *Scope) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.destroyed
}
