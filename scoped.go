// Package scoped maintains an implicit, nested, per-goroutine "current"
// value for families of scope types. A value enters scope when opened and
// leaves when closed; the innermost open instance of a type hierarchy is
// always reachable through the type's Current query, so scoped data can be
// passed around implicitly instead of threading it through every call.
//
// Stacks are strictly goroutine local: a scope opened on one goroutine is
// never visible to another, which is what makes implicit context safe under
// concurrency.
package scoped

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-scoped/pkg/activity"
)

const (
	verbOpened  = "opened"
	verbClosed  = "closed"
	verbCleared = "cleared"
)

// Type is the registered descriptor of one scope family: its resolved
// options, its stack owner, and its evaluator configuration. Instances of T
// are opened and closed against the type; the type answers the family level
// queries (Current, Topmost, Stack, ...).
type Type[T Instance] struct {
	fam    *family
	def    T
	hasDef bool
}

// family is the non-generic core shared by the lifecycle engine.
type family struct {
	name      string
	parent    *family
	owner     *family
	opts      ScopedOptions
	valueType reflect.Type

	capture  SiteCapture
	metadata map[string]any
	emitter  *activity.Emitter

	defaultState *scopeState

	guard     string
	guardOnce sync.Once
	guardRule CompiledRule
	guardErr  error

	evaluator Evaluator
	evalOnce  sync.Once
	cache     ProgramCache
	functions *FunctionRegistry
	logger    EvaluatorLogger
}

// Register defines a new root scope type owning a fresh stack. All options
// are resolved and validated here, before any instance can exist; a root
// type cannot declare InheritStack(true) because there is nothing to inherit.
func Register[T Instance](name string, opts ...TypeOption) (*Type[T], error) {
	return newType[T](name, nil, opts)
}

// MustRegister is Register, panicking on configuration errors. Intended for
// package-level type declarations.
func MustRegister[T Instance](name string, opts ...TypeOption) *Type[T] {
	t, err := Register[T](name, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Derive defines a scope type below parent. Unset options inherit the
// parent's effective values, except InheritStack whose default is recomputed:
// derived types share the parent's stack unless they declare otherwise.
func Derive[T Instance, P Instance](parent *Type[P], name string, opts ...TypeOption) (*Type[T], error) {
	if parent == nil {
		return nil, &ConfigError{
			Type:   name,
			Reason: fmt.Sprintf("%s requires a parent type", name),
			Err:    ErrParentRequired,
		}
	}
	return newType[T](name, parent.fam, opts)
}

// MustDerive is Derive, panicking on configuration errors.
func MustDerive[T Instance, P Instance](parent *Type[P], name string, opts ...TypeOption) *Type[T] {
	t, err := Derive[T](parent, name, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func newType[T Instance](name string, parent *family, options []TypeOption) (*Type[T], error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	cfg := applyTypeOptions(options)
	opts, err := resolveOptions(name, parent, cfg)
	if err != nil {
		return nil, err
	}

	f := &family{
		name:      name,
		parent:    parent,
		opts:      opts,
		valueType: reflect.TypeFor[T](),
		capture:   cfg.capture,
		metadata:  cfg.metadata,
		guard:     cfg.guard,
		evaluator: cfg.evaluator,
		cache:     cfg.cache,
		functions: cfg.functions,
		logger:    cfg.logger,
	}
	if opts.InheritStack {
		f.owner = parent.owner
	} else {
		f.owner = f
	}

	// Every ancestor observing the shared stack must be able to see this
	// type's instances through its own queries.
	if opts.InheritStack {
		for a := parent; a != nil && a.owner == f.owner; a = a.parent {
			if !valueVisible(f.valueType, a.valueType) {
				return nil, &ConfigError{
					Type:   name,
					Reason: fmt.Sprintf("%s instances (%s) are not visible through %s's stack (%s)", name, f.valueType, a.name, a.valueType),
					Err:    ErrIncompatibleValue,
				}
			}
			if a == a.owner {
				break
			}
		}
	}

	if len(cfg.hooks) > 0 {
		f.emitter = activity.NewEmitter(cfg.hooks, activity.Config{Enabled: true})
	}

	return &Type[T]{fam: f}, nil
}

func valueVisible(derived, ancestor reflect.Type) bool {
	if derived == ancestor {
		return true
	}
	return ancestor.Kind() == reflect.Interface && derived.Implements(ancestor)
}

// Name returns the registered type name.
func (t *Type[T]) Name() string { return t.fam.name }

// Options returns the effective resolved options.
func (t *Type[T]) Options() ScopedOptions { return t.fam.opts }

// Owns reports whether err was produced by this type: typed lifecycle,
// missing, and configuration errors carry the family name of the type that
// raised them.
func (t *Type[T]) Owns(err error) bool {
	name, ok := ErrorType(err)
	return ok && name == t.fam.name
}

// Open pushes v onto the type's stack for the calling goroutine, making it
// the current scope of the whole stack-sharing family. It returns v so open
// calls compose with construction:
//
//	s, err := Sessions.Open(&Session{User: "ada"})
func (t *Type[T]) Open(v T) (T, error) {
	return t.open(v, 1)
}

func (t *Type[T]) open(v T, callerLevel int) (T, error) {
	var zero T
	f := t.fam
	st := v.state()

	if st.open {
		return zero, newLifecycleError(f.name, st.shortID(), ErrAlreadyOpen,
			fmt.Sprintf("%s(%s) is already open", f.name, st.shortID()),
			f.formatTrace("  "))
	}
	if st.used && !f.opts.AllowReuse {
		return zero, newLifecycleError(f.name, st.shortID(), ErrCannotReuse,
			fmt.Sprintf("%s(%s) cannot be reused", f.name, st.shortID()),
			f.formatTrace("  "))
	}
	if st.fam != nil && st.fam != f && st.fam.defaultState != st {
		return zero, newLifecycleError(f.name, st.shortID(), ErrCannotReuse,
			fmt.Sprintf("%s(%s) already belongs to %s", f.name, st.shortID(), st.fam.name),
			f.formatTrace("  "))
	}

	stack := defaultRegistry.ensure(f.owner)
	if stack.depth() >= f.opts.MaxNesting {
		defaultRegistry.dropIfEmpty(f.owner, stack)
		return zero, newLifecycleError(f.name, st.shortID(), ErrNestingExceeded,
			fmt.Sprintf("cannot nest %s more than %d levels", f.name, f.opts.MaxNesting),
			f.formatTrace("  "))
	}

	if err := f.checkGuard(v, stack.depth()); err != nil {
		defaultRegistry.dropIfEmpty(f.owner, stack)
		return zero, err
	}

	if st.id == uuid.Nil {
		st.id = uuid.New()
	}
	st.fam = f
	st.self = v
	st.open = true
	st.used = true
	st.site = nil
	if f.capture != nil {
		if site, ok := f.capture(callerLevel + 2); ok {
			st.site = &site
		}
	}
	stack.push(st)
	f.emit(verbOpened, st, stack.depth())
	return v, nil
}

// Do opens v, runs fn with it, and closes it again on every exit path. The
// recorded open site is the Do call itself. A body error propagates with any
// close failure attached via errors.Join; when the body panics the scope is
// still closed (a close failure is dropped) and the panic continues.
func (t *Type[T]) Do(v T, fn func(T) error) error {
	opened, err := t.open(v, 1)
	if err != nil {
		return err
	}
	completed := false
	defer func() {
		if !completed {
			_ = closeState(opened.state())
		}
	}()
	err = fn(opened)
	completed = true
	if cerr := closeState(opened.state()); cerr != nil {
		if err != nil {
			return errors.Join(err, cerr)
		}
		return cerr
	}
	return err
}

// HasTopmost reports whether Topmost would succeed for the calling goroutine:
// a scope is open on the owning stack and its instance is representable as T.
func (t *Type[T]) HasTopmost() bool {
	stack, ok := defaultRegistry.lookup(t.fam.owner)
	if !ok {
		return false
	}
	top, ok := stack.peek()
	if !ok {
		return false
	}
	_, ok = top.self.(T)
	return ok
}

// Topmost returns the innermost open scope on the owning stack. Unlike
// Current it never falls back to the configured default.
func (t *Type[T]) Topmost() (T, error) {
	var zero T
	if stack, ok := defaultRegistry.lookup(t.fam.owner); ok {
		if top, ok := stack.peek(); ok {
			if v, ok := top.self.(T); ok {
				return v, nil
			}
		}
	}
	return zero, &MissingError{
		Type:   t.fam.name,
		Reason: fmt.Sprintf("no %s on the stack", t.fam.name),
	}
}

// HasCurrent reports whether Current would succeed: something is open on the
// owning stack, or a default is configured for this exact type.
func (t *Type[T]) HasCurrent() bool {
	return t.HasTopmost() || t.hasDef
}

// Current returns the innermost open scope of the stack-sharing family
// (instances of derived types transparently shadow ancestor queries), or the
// type's configured default when the stack is empty.
func (t *Type[T]) Current() (T, error) {
	if v, err := t.Topmost(); err == nil {
		return v, nil
	}
	if t.hasDef {
		return t.def, nil
	}
	var zero T
	return zero, &MissingError{
		Type:   t.fam.name,
		Reason: fmt.Sprintf("no %s is in scope", t.fam.name),
	}
}

// CurrentIfAny is Current without the error: the second result reports
// whether anything resolved.
func (t *Type[T]) CurrentIfAny() (T, bool) {
	v, err := t.Current()
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// SetDefault configures the value Current falls back to while the stack is
// empty. Meant to be called once during initialisation; it is not
// synchronised against concurrent queries.
func (t *Type[T]) SetDefault(v T) {
	t.def = v
	t.hasDef = true
	st := v.state()
	if st.fam == nil {
		st.fam = t.fam
	}
	t.fam.defaultState = st
}

// HasDefault reports whether a default value is configured.
func (t *Type[T]) HasDefault() bool { return t.hasDef }

// Default returns the configured default value, if any.
func (t *Type[T]) Default() (T, bool) {
	if !t.hasDef {
		var zero T
		return zero, false
	}
	return t.def, true
}

// Stack returns a copy of the owning stack for the calling goroutine,
// outermost first. Entries whose instance type is not representable as T
// (ancestor instances of a different Go type on a shared stack) are skipped.
func (t *Type[T]) Stack() []T {
	stack, ok := defaultRegistry.lookup(t.fam.owner)
	if !ok || stack.depth() == 0 {
		return nil
	}
	out := make([]T, 0, stack.depth())
	for _, entry := range stack.entries {
		if v, ok := entry.self.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Depth returns how many scopes are open on the owning stack for the calling
// goroutine.
func (t *Type[T]) Depth() int {
	stack, ok := defaultRegistry.lookup(t.fam.owner)
	if !ok {
		return 0
	}
	return stack.depth()
}

// Clear drops the calling goroutine's stack for the whole family, marking
// every open instance closed. It is a test and reset utility; other
// goroutines' stacks are untouched.
func (t *Type[T]) Clear() {
	f := t.fam
	if stack, ok := defaultRegistry.lookup(f.owner); ok {
		for _, entry := range stack.entries {
			entry.open = false
		}
	}
	defaultRegistry.drop(f.owner)
	f.emit(verbCleared, nil, 0)
}

func (f *family) currentState() (*scopeState, bool) {
	if stack, ok := defaultRegistry.lookup(f.owner); ok {
		if top, ok := stack.peek(); ok {
			return top, true
		}
	}
	if f.defaultState != nil {
		return f.defaultState, true
	}
	return nil, false
}

// emit fans a lifecycle event out to the configured hooks. Emission is best
// effort: hook errors are ignored so diagnostics can never break lifecycle
// correctness.
func (f *family) emit(verb string, st *scopeState, depth int) {
	if !f.emitter.Enabled() {
		return
	}
	event := activity.Event{
		Verb:     verb,
		Type:     f.name,
		Depth:    depth,
		Metadata: f.metadata,
	}
	if st != nil {
		event.ScopeID = st.id.String()
		if st.site != nil {
			event.Site = st.site.String()
		}
	}
	_ = f.emitter.Emit(context.Background(), event)
}
