// Package txn carries a unit of work through a context: the storage transaction and the
// hooks that must only run once it has committed.
package txn

import (
	"context"
	"sync"
)

// Tx is a storage transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner starts a transaction and returns a context that carries it. Repositories built on
// the same storage pick the transaction up from that context.
type Beginner interface {
	Begin(ctx context.Context) (context.Context, Tx, error)
}

type scopeKey struct{}

// Scope collects after-commit hooks for one unit of work.
type Scope struct {
	mu    sync.Mutex
	hooks []func(context.Context)
}

// WithScope returns a context carrying a fresh Scope.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// InScope reports whether ctx belongs to an open unit of work.
func InScope(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey{}).(*Scope)
	return ok
}

// AfterCommit defers fn until the surrounding unit of work commits. Without a unit of work
// fn runs immediately. Hooks of a rolled back unit of work never run.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok {
		fn(ctx)
		return
	}

	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Run executes the collected hooks in registration order and forgets them.
func (s *Scope) Run(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}

// Discard forgets the collected hooks without running them.
func (s *Scope) Discard() {
	s.mu.Lock()
	s.hooks = nil
	s.mu.Unlock()
}
