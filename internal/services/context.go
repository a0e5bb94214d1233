package services

import (
	"context"
	"fmt"
	"sync"
)

type sessionKey struct{}

type taskKey struct{}

// taskHolder caches the lazily built default session of one task.
type taskHolder struct {
	mu       sync.Mutex
	opts     SessionOpts
	session  *Session
	err      error
	released bool
}

// WithSession publishes s as the current session of ctx.
// The parent context is untouched, so leaving the scope restores whatever it carried.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session published with [WithSession], if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// NewTask marks ctx as the root of a unit of work. [Current] called anywhere below it and
// outside an explicit scope builds one anonymous session with opts and reuses it for that task only.
//
// release closes the task default if one was built; call it when the unit of work ends.
func NewTask(ctx context.Context, opts SessionOpts) (task context.Context, release func()) {
	h := &taskHolder{opts: opts}
	release = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.released = true
		if h.session != nil {
			h.session.Close()
		}
	}
	return context.WithValue(ctx, taskKey{}, h), release
}

// Current resolves the session for ctx: the scoped one, else the task default.
// Outside both it returns [ErrNoSession].
func Current(ctx context.Context) (*Session, error) {
	if s, ok := FromContext(ctx); ok {
		return s, nil
	}
	h, ok := ctx.Value(taskKey{}).(*taskHolder)
	if !ok {
		return nil, ErrNoSession
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, fmt.Errorf("%w: task already released", ErrNoSession)
	}
	if h.session == nil && h.err == nil {
		opts := h.opts
		opts.Credential = nil
		h.session, h.err = NewSession(ctx, opts)
	}
	return h.session, h.err
}

// Resolve returns s when it is set, else the session [Current] finds in ctx.
func Resolve(ctx context.Context, s *Session) (*Session, error) {
	if s != nil {
		return s, nil
	}
	return Current(ctx)
}

// Scope creates a session, publishes it into ctx for the duration of fn and closes it on every exit path.
func Scope(ctx context.Context, opts SessionOpts, fn func(ctx context.Context, s *Session) error) error {
	s, err := NewSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(WithSession(ctx, s), s)
}
