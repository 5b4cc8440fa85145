// Package fetch scopes view fetches so that a newer fetch for the same view
// cancels the older one and stale results are never applied.
package fetch

import (
	"context"
	"sync"
)

// Token identifies one fetch begun on a Scope.
type Token struct {
	key string
	seq uint64
}

type entry struct {
	seq    uint64
	cancel context.CancelFunc
}

// Scope tracks the current fetch per view key.
type Scope struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]entry
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{current: make(map[string]entry)}
}

// Begin starts a fetch for key, cancelling the previous fetch for the same
// key. The returned context is cancelled when a newer fetch begins, when the
// fetch is delivered, or when parent is done.
func (s *Scope) Begin(parent context.Context, key string) (context.Context, Token) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.current[key]; ok {
		prev.cancel()
	}
	s.seq++
	s.current[key] = entry{seq: s.seq, cancel: cancel}
	return ctx, Token{key: key, seq: s.seq}
}

// Deliver runs fn and ends the fetch if tok is still current. It reports
// whether tok was current. A nil fn only releases the fetch. fn runs under
// the scope lock and must not call back into the scope.
func (s *Scope) Deliver(tok Token, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current[tok.key]
	if !ok || e.seq != tok.seq {
		return false
	}
	if fn != nil {
		fn()
	}
	delete(s.current, tok.key)
	e.cancel()
	return true
}

// CancelAll cancels every fetch in flight. Tokens issued before the call
// are no longer current.
func (s *Scope) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.current {
		e.cancel()
		delete(s.current, key)
	}
}

// Len returns the number of fetches in flight.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current)
}
