package scoped

import (
	"sync"

	"github.com/petermattis/goid"
)

// stackRegistry owns the per-goroutine stacks for every stack-owning family.
// A stack is created lazily the first time a goroutine opens a scope in that
// family and dropped again once it empties, so registry entries only exist
// while scopes are actually open. A goroutine that exits with scopes still
// open pins its entry forever; closing every open scope (Do, or defer Close)
// is what releases the slot.
//
// The map itself is guarded because unrelated goroutines grow and shrink it
// concurrently; the entries of any single stack are only ever touched by the
// goroutine the stack belongs to.
type stackRegistry struct {
	mu     sync.Mutex
	stacks map[registryKey]*stack
}

type registryKey struct {
	gid   int64
	owner *family
}

type stack struct {
	entries []*scopeState
}

var defaultRegistry = &stackRegistry{stacks: map[registryKey]*stack{}}

// ensure returns the calling goroutine's stack for owner, creating it on
// first use.
func (r *stackRegistry) ensure(owner *family) *stack {
	key := registryKey{gid: goid.Get(), owner: owner}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stacks[key]
	if !ok {
		s = &stack{}
		r.stacks[key] = s
	}
	return s
}

// lookup returns the calling goroutine's stack for owner without creating it.
func (r *stackRegistry) lookup(owner *family) (*stack, bool) {
	key := registryKey{gid: goid.Get(), owner: owner}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stacks[key]
	return s, ok
}

// drop removes the calling goroutine's stack for owner. Other goroutines'
// stacks are untouched.
func (r *stackRegistry) drop(owner *family) {
	key := registryKey{gid: goid.Get(), owner: owner}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stacks, key)
}

// dropIfEmpty releases the registry slot once the last scope closes.
func (r *stackRegistry) dropIfEmpty(owner *family, s *stack) {
	if len(s.entries) > 0 {
		return
	}
	r.drop(owner)
}

func (s *stack) push(st *scopeState) {
	s.entries = append(s.entries, st)
}

func (s *stack) pop() *scopeState {
	last := len(s.entries) - 1
	st := s.entries[last]
	s.entries[last] = nil
	s.entries = s.entries[:last]
	return st
}

func (s *stack) peek() (*scopeState, bool) {
	if len(s.entries) == 0 {
		return nil, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *stack) depth() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}
