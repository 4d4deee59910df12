package scoped

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing indicates a current scope was expected and none is open.
	ErrMissing = errors.New("scoped: nothing in scope")
	// ErrAlreadyOpen indicates an open call on an instance that is open.
	ErrAlreadyOpen = errors.New("scoped: scope is already open")
	// ErrCannotReuse indicates a re-open on a type that disallows reuse.
	ErrCannotReuse = errors.New("scoped: scope cannot be reused")
	// ErrNotOpen indicates a close call on an instance that was never opened.
	ErrNotOpen = errors.New("scoped: scope is not open")
	// ErrAlreadyClosed indicates a close call on an instance that already
	// completed its single open/close cycle.
	ErrAlreadyClosed = errors.New("scoped: scope has already been closed")
	// ErrNotTopmost indicates a close call out of LIFO order.
	ErrNotTopmost = errors.New("scoped: scope is not at the top of the stack")
	// ErrNestingExceeded indicates the owning stack is at its nesting limit.
	ErrNestingExceeded = errors.New("scoped: nesting limit exceeded")
	// ErrGuardRejected indicates a configured guard rule vetoed an open.
	ErrGuardRejected = errors.New("scoped: guard rejected open")
)

var (
	// ErrNameRequired indicates a type registration without a name.
	ErrNameRequired = errors.New("scoped: type name must be provided")
	// ErrParentRequired indicates a Derive call with a nil parent type.
	ErrParentRequired = errors.New("scoped: parent type is required")
	// ErrNoParentStack indicates inherit_stack on a type with no parent.
	ErrNoParentStack = errors.New("scoped: no parent stack to inherit")
	// ErrSharedNesting indicates a max_nesting override on a type that
	// inherits its parent stack.
	ErrSharedNesting = errors.New("scoped: cannot override max nesting when inheriting the stack")
	// ErrBadNesting indicates a non-positive max_nesting value.
	ErrBadNesting = errors.New("scoped: max nesting must be positive")
	// ErrIncompatibleValue indicates a derived instance type that cannot be
	// observed through an ancestor sharing the same stack.
	ErrIncompatibleValue = errors.New("scoped: derived instance type is not visible through the shared stack")
)

// LifecycleError reports an open or close performed at the wrong time. The
// stack state is left exactly as it was before the failing call.
type LifecycleError struct {
	Type   string
	ID     string
	Reason string
	Err    error
	Trace  string
}

func (e *LifecycleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Trace == "" {
		return fmt.Sprintf("scoped: %s", e.Reason)
	}
	return fmt.Sprintf("scoped: %s\n%s", e.Reason, e.Trace)
}

func (e *LifecycleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError reports an invalid type registration. It is returned by
// Register and Derive before any instance of the type can exist.
type ConfigError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scoped: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MissingError reports a current-scope query with nothing in scope and no
// configured default.
type MissingError struct {
	Type   string
	Reason string
}

func (e *MissingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scoped: %s", e.Reason)
}

func (e *MissingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return ErrMissing
}

// ErrorType extracts the scope type name tagged on err, so callers can tell
// one family's failures apart from another's without new error types per
// family.
func ErrorType(err error) (string, bool) {
	var lifecycle *LifecycleError
	if errors.As(err, &lifecycle) {
		return lifecycle.Type, true
	}
	var missing *MissingError
	if errors.As(err, &missing) {
		return missing.Type, true
	}
	var config *ConfigError
	if errors.As(err, &config) {
		return config.Type, true
	}
	return "", false
}

func newLifecycleError(typeName, id string, kind error, reason, trace string) *LifecycleError {
	return &LifecycleError{
		Type:   typeName,
		ID:     id,
		Reason: reason,
		Err:    kind,
		Trace:  trace,
	}
}
