package scoped

import (
	"fmt"

	"github.com/google/uuid"
)

// Scope is the lifecycle anchor embedded by scope instances. Any struct that
// embeds Scope can be opened on a registered type's stack:
//
//	type Session struct {
//		scoped.Scope
//		User string
//	}
//
//	var Sessions = scoped.MustRegister[*Session]("Session")
//
//	s, err := Sessions.Open(&Session{User: "ada"})
//	defer s.Close()
//
// An instance is only ever valid on the goroutine that opened it.
type Scope struct {
	st scopeState
}

// Instance is satisfied by any struct embedding Scope. It exists so the
// lifecycle engine can reach the embedded state; callers never implement it
// directly.
type Instance interface {
	state() *scopeState
}

// Binder exposes the values a scope instance contributes to evaluator
// environments. Implementing it is optional; instances without bindings are
// still fully usable, their rules just cannot reference scope values.
type Binder interface {
	Binding() map[string]any
}

type scopeState struct {
	fam  *family
	self Instance
	id   uuid.UUID
	open bool
	used bool
	site *CallSite
}

func (s *Scope) state() *scopeState { return &s.st }

// IsOpen reports whether the scope is currently on its stack.
func (s *Scope) IsOpen() bool { return s.st.open }

// IsUsed reports whether the scope has ever been opened.
func (s *Scope) IsUsed() bool { return s.st.used }

// ID returns the identity assigned on first open, or uuid.Nil before that.
func (s *Scope) ID() uuid.UUID { return s.st.id }

// OpenSite returns where the scope was opened, when a site was captured.
func (s *Scope) OpenSite() (CallSite, bool) {
	if s.st.site == nil {
		return CallSite{}, false
	}
	return *s.st.site, true
}

// IsCurrent reports whether this instance resolves as its type's current
// scope on the calling goroutine.
func (s *Scope) IsCurrent() bool {
	if s.st.fam == nil {
		return false
	}
	current, ok := s.st.fam.currentState()
	return ok && current == &s.st
}

// Close removes the scope from the top of its stack. Scopes close in strict
// LIFO order within one stack; closing out of order fails with ErrNotTopmost
// and leaves the stack untouched.
func (s *Scope) Close() error {
	return closeState(&s.st)
}

func closeState(st *scopeState) error {
	f := st.fam
	if !st.open {
		name := "scope"
		var trace string
		if f != nil {
			name = f.name
			trace = f.formatTrace("  ")
		}
		if st.used && (f == nil || !f.opts.AllowReuse) {
			return newLifecycleError(name, st.shortID(), ErrAlreadyClosed,
				fmt.Sprintf("this %s has already been closed", name), trace)
		}
		return newLifecycleError(name, st.shortID(), ErrNotOpen,
			fmt.Sprintf("this %s is not open", name), trace)
	}

	stack, ok := defaultRegistry.lookup(f.owner)
	if !ok {
		// Open on another goroutine; nothing on this one's stack.
		return newLifecycleError(f.name, st.shortID(), ErrNotTopmost,
			fmt.Sprintf("this %s is not at the top of the stack", f.name), "")
	}
	if top, _ := stack.peek(); top != st {
		return newLifecycleError(f.name, st.shortID(), ErrNotTopmost,
			fmt.Sprintf("this %s is not at the top of the stack", f.name),
			f.formatTrace("  "))
	}

	stack.pop()
	st.open = false
	depth := stack.depth()
	defaultRegistry.dropIfEmpty(f.owner, stack)
	f.emit(verbClosed, st, depth)
	return nil
}

func (st *scopeState) shortID() string {
	if st.id == uuid.Nil {
		return "-"
	}
	return st.id.String()[:8]
}
