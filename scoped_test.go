package scoped

import (
	"errors"
	"testing"
)

type testScope struct {
	Scope
	Label string
}

func TestRegisterDefaultOptions(t *testing.T) {
	root := MustRegister[*testScope]("Root")

	opts := root.Options()
	if opts.InheritStack {
		t.Fatalf("root type should own its stack")
	}
	if opts.MaxNesting != DefaultMaxNesting {
		t.Fatalf("expected max nesting %d, got %d", DefaultMaxNesting, opts.MaxNesting)
	}
	if opts.AllowReuse {
		t.Fatalf("reuse should be disallowed by default")
	}
}

func TestDeriveDefaultsToSharedStack(t *testing.T) {
	root := MustRegister[*testScope]("Root", MaxNesting(8), AllowReuse(true))
	child := MustDerive[*testScope](root, "Child")

	opts := child.Options()
	if !opts.InheritStack {
		t.Fatalf("derived type should share the parent stack by default")
	}
	if opts.MaxNesting != 8 {
		t.Fatalf("shared stack should carry the owner limit, got %d", opts.MaxNesting)
	}
	if !opts.AllowReuse {
		t.Fatalf("AllowReuse should be inherited")
	}
}

func TestInheritStackNeverInheritedAsDefault(t *testing.T) {
	root := MustRegister[*testScope]("Root")
	shared := MustDerive[*testScope](root, "Shared")
	isolated := MustDerive[*testScope](shared, "Isolated", InheritStack(false))
	grandchild := MustDerive[*testScope](isolated, "Grandchild")

	if isolated.Options().InheritStack {
		t.Fatalf("explicit InheritStack(false) should hold")
	}
	if isolated.fam.owner != isolated.fam {
		t.Fatalf("isolated type should own its stack")
	}
	// The declared false is not itself inherited: the grandchild recomputes
	// the default and shares the isolated type's stack.
	if !grandchild.Options().InheritStack {
		t.Fatalf("grandchild should default to sharing again")
	}
	if grandchild.fam.owner != isolated.fam {
		t.Fatalf("grandchild should share the isolated type's stack")
	}
}

func TestDeriveWithOwnStackInheritsLimits(t *testing.T) {
	root := MustRegister[*testScope]("Root", MaxNesting(4))
	child := MustDerive[*testScope](root, "Child", InheritStack(false))

	if child.Options().MaxNesting != 4 {
		t.Fatalf("unset limit should fall back to the parent's effective value, got %d", child.Options().MaxNesting)
	}

	override := MustDerive[*testScope](root, "Override", InheritStack(false), MaxNesting(2))
	if override.Options().MaxNesting != 2 {
		t.Fatalf("declared limit should win, got %d", override.Options().MaxNesting)
	}
}

func TestRegisterConfigurationErrors(t *testing.T) {
	if _, err := Register[*testScope](""); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if _, err := Register[*testScope]("Root", InheritStack(true)); !errors.Is(err, ErrNoParentStack) {
		t.Fatalf("expected ErrNoParentStack, got %v", err)
	}
	if _, err := Register[*testScope]("Root", MaxNesting(-1)); !errors.Is(err, ErrBadNesting) {
		t.Fatalf("expected ErrBadNesting, got %v", err)
	}

	root := MustRegister[*testScope]("Root")
	if _, err := Derive[*testScope](root, "Child", MaxNesting(4)); !errors.Is(err, ErrSharedNesting) {
		t.Fatalf("expected ErrSharedNesting for shared stack limit override, got %v", err)
	}
	if _, err := Derive[*testScope, *testScope](nil, "Orphan"); !errors.Is(err, ErrParentRequired) {
		t.Fatalf("expected ErrParentRequired, got %v", err)
	}

	// Explicit InheritStack(false) permits a limit on a derived type.
	if _, err := Derive[*testScope](root, "Own", InheritStack(false), MaxNesting(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMustRegisterPanicsOnBadConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustRegister to panic")
		}
	}()
	MustRegister[*testScope]("Root", InheritStack(true))
}

type visibleBase interface {
	Instance
	label() string
}

type baseScope struct {
	Scope
	name string
}

func (b *baseScope) label() string { return b.name }

type otherScope struct {
	Scope
}

func TestSharedStackValueVisibility(t *testing.T) {
	base := MustRegister[visibleBase]("Base")

	// Same Go type and interface-satisfying types are fine.
	if _, err := Derive[visibleBase](base, "SameShape"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Derive[*baseScope](base, "Concrete"); err != nil {
		t.Fatalf("concrete type implementing the ancestor interface should share: %v", err)
	}

	// A type whose instances the ancestor cannot observe is rejected.
	if _, err := Derive[*otherScope](base, "Stranger"); !errors.Is(err, ErrIncompatibleValue) {
		t.Fatalf("expected ErrIncompatibleValue, got %v", err)
	}

	// With an isolated stack there is nothing to observe, so any type goes.
	if _, err := Derive[*otherScope](base, "Isolated", InheritStack(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type altScope struct {
	Scope
	name string
}

func (a *altScope) label() string { return a.name }

func TestSharedStackPredicatesMatchGetters(t *testing.T) {
	base := MustRegister[visibleBase]("PredicateBase")
	sub := MustDerive[*baseScope](base, "PredicateSub")

	// The top of the shared stack implements the ancestor interface but is
	// not the derived type's concrete type.
	alt := &altScope{name: "alt"}
	if _, err := base.Open(alt); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer alt.Close()

	if !base.HasTopmost() {
		t.Fatalf("ancestor should see the open scope")
	}
	if _, err := base.Topmost(); err != nil {
		t.Fatalf("ancestor topmost: %v", err)
	}

	if sub.HasTopmost() {
		t.Fatalf("derived HasTopmost should agree with Topmost")
	}
	if _, err := sub.Topmost(); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected missing error from derived topmost, got %v", err)
	}
	if sub.HasCurrent() {
		t.Fatalf("derived HasCurrent should agree with Current")
	}
	if _, err := sub.Current(); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected missing error from derived current, got %v", err)
	}

	// An instance of the derived type restores the pairing from the other side.
	own := &baseScope{name: "own"}
	if _, err := sub.Open(own); err != nil {
		t.Fatalf("open derived: %v", err)
	}
	defer own.Close()
	if !sub.HasTopmost() || !sub.HasCurrent() {
		t.Fatalf("derived predicates should see the derived instance")
	}
}

func TestDescribe(t *testing.T) {
	root := MustRegister[*testScope]("Root",
		MaxNesting(4),
		WithGuard("depth < 3"),
		WithTypeMetadata(map[string]any{"tier": "standard"}),
	)
	child := MustDerive[*testScope](root, "Child")
	child.SetDefault(&testScope{Label: "fallback"})
	defer child.Clear()

	desc := root.Describe()
	if desc.Name != "Root" || desc.Parent != "" || desc.StackOwner != "Root" {
		t.Fatalf("unexpected root descriptor: %+v", desc)
	}
	if desc.Options.MaxNesting != 4 || desc.Guard != "depth < 3" {
		t.Fatalf("unexpected root configuration: %+v", desc)
	}
	if desc.Metadata["tier"] != "standard" {
		t.Fatalf("expected metadata in descriptor: %+v", desc.Metadata)
	}
	if desc.HasDefault {
		t.Fatalf("root has no default")
	}

	childDesc := child.Describe()
	if childDesc.Parent != "Root" || childDesc.StackOwner != "Root" {
		t.Fatalf("unexpected child descriptor: %+v", childDesc)
	}
	if !childDesc.HasDefault {
		t.Fatalf("child descriptor should report the default")
	}
}

func TestErrorType(t *testing.T) {
	sessions := MustRegister[*testScope]("TaggedSession")

	_, err := sessions.Current()
	name, ok := ErrorType(err)
	if !ok || name != "TaggedSession" {
		t.Fatalf("expected missing error tagged TaggedSession, got %q (%v)", name, err)
	}

	s := &testScope{}
	if _, err := sessions.Open(s); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = sessions.Open(s)
	name, ok = ErrorType(err)
	if !ok || name != "TaggedSession" {
		t.Fatalf("expected lifecycle error tagged TaggedSession, got %q (%v)", name, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := ErrorType(errors.New("unrelated")); ok {
		t.Fatalf("unrelated errors carry no type tag")
	}
}
