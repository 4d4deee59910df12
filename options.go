package scoped

import (
	"fmt"

	"github.com/goliatone/go-scoped/pkg/activity"
)

// DefaultMaxNesting bounds a fresh stack when no limit is declared anywhere
// along the type's ancestry.
const DefaultMaxNesting = 16

// ScopedOptions is the effective, fully resolved configuration of a scope
// type. It is computed once at registration time and immutable afterwards.
type ScopedOptions struct {
	// InheritStack marks the type as sharing its parent's stack, making
	// instances of both mutually nested. The default is to inherit whenever
	// the type has a parent; types registered at the root always own a fresh
	// stack. The declared value is never itself passed on to derived types.
	InheritStack bool `json:"inherit_stack"`
	// MaxNesting bounds how many scopes can be open on the owning stack at
	// once. It is a property of the stack, so stack-sharing types cannot
	// override it.
	MaxNesting int `json:"max_nesting"`
	// AllowReuse permits instances to be opened again after closing.
	AllowReuse bool `json:"allow_reuse"`
}

// TypeOption configures a scope type at registration time.
type TypeOption func(*typeConfig)

type typeConfig struct {
	inheritStack *bool
	maxNesting   int
	allowReuse   *bool

	capture    SiteCapture
	captureSet bool

	guard    string
	metadata map[string]any
	hooks    activity.Hooks

	evaluator Evaluator
	cache     ProgramCache
	functions *FunctionRegistry
	logger    EvaluatorLogger
}

// InheritStack declares whether the type shares its parent's stack.
func InheritStack(inherit bool) TypeOption {
	return func(cfg *typeConfig) {
		cfg.inheritStack = &inherit
	}
}

// MaxNesting declares the nesting limit for the type's own stack.
func MaxNesting(limit int) TypeOption {
	return func(cfg *typeConfig) {
		cfg.maxNesting = limit
	}
}

// AllowReuse declares whether closed instances may be opened again.
func AllowReuse(allow bool) TypeOption {
	return func(cfg *typeConfig) {
		cfg.allowReuse = &allow
	}
}

// WithSiteCapture replaces the runtime.Caller based call-site capture used
// for diagnostics. Passing nil disables capture entirely; open sites then
// render as "opened somewhere".
func WithSiteCapture(capture SiteCapture) TypeOption {
	return func(cfg *typeConfig) {
		cfg.capture = capture
		cfg.captureSet = true
	}
}

// WithGuard installs a boolean rule evaluated before every open. A false
// result rejects the open with ErrGuardRejected; evaluation failures surface
// to the opener as evaluation errors. The guard environment exposes the
// opening instance as "current" alongside "type" and "depth".
func WithGuard(expr string) TypeOption {
	return func(cfg *typeConfig) {
		cfg.guard = expr
	}
}

// WithTypeMetadata attaches metadata included in activity events and rule
// environments. The map is copied so the type stays immutable if the caller
// mutates their reference.
func WithTypeMetadata(metadata map[string]any) TypeOption {
	return func(cfg *typeConfig) {
		if len(metadata) == 0 {
			return
		}
		cfg.metadata = copyMetadata(metadata)
	}
}

// WithHooks registers lifecycle activity hooks notified after every
// successful open, close, and clear. Hooks are best effort: their failures
// never affect lifecycle behaviour.
func WithHooks(hooks activity.Hooks) TypeOption {
	normalized := cloneHooks(hooks)
	return func(cfg *typeConfig) {
		cfg.hooks = normalized
	}
}

// WithEvaluator configures the rule evaluator used for guards and queries.
func WithEvaluator(e Evaluator) TypeOption {
	return func(cfg *typeConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache registers a compiled-program cache for the default
// evaluator.
func WithProgramCache(cache ProgramCache) TypeOption {
	return func(cfg *typeConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry exposes registered functions to rule expressions.
func WithFunctionRegistry(registry *FunctionRegistry) TypeOption {
	return func(cfg *typeConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithEvaluatorLogger records rule evaluation attempts.
func WithEvaluatorLogger(logger EvaluatorLogger) TypeOption {
	return func(cfg *typeConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

func applyTypeOptions(opts []TypeOption) typeConfig {
	cfg := typeConfig{capture: RuntimeSiteCapture}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if !cfg.captureSet && cfg.capture == nil {
		cfg.capture = RuntimeSiteCapture
	}
	return cfg
}

// resolveOptions merges the locally declared overrides with the parent's
// effective options. InheritStack is the one option that never flows down:
// its default is recomputed per type so that exactly one level of a hierarchy
// gets a fresh stack unless declared otherwise.
func resolveOptions(name string, parent *family, cfg typeConfig) (ScopedOptions, error) {
	opts := ScopedOptions{}

	if cfg.inheritStack != nil {
		opts.InheritStack = *cfg.inheritStack
	} else {
		opts.InheritStack = parent != nil
	}
	if opts.InheritStack && parent == nil {
		return ScopedOptions{}, &ConfigError{
			Type:   name,
			Reason: fmt.Sprintf("%s has no parent stack to inherit", name),
			Err:    ErrNoParentStack,
		}
	}
	if opts.InheritStack && cfg.maxNesting != 0 {
		return ScopedOptions{}, &ConfigError{
			Type:   name,
			Reason: fmt.Sprintf("%s shares its parent's stack and cannot override max nesting", name),
			Err:    ErrSharedNesting,
		}
	}

	switch {
	case opts.InheritStack:
		opts.MaxNesting = parent.owner.opts.MaxNesting
	case cfg.maxNesting != 0:
		if cfg.maxNesting < 0 {
			return ScopedOptions{}, &ConfigError{
				Type:   name,
				Reason: fmt.Sprintf("%s: max nesting must be positive, got %d", name, cfg.maxNesting),
				Err:    ErrBadNesting,
			}
		}
		opts.MaxNesting = cfg.maxNesting
	case parent != nil:
		opts.MaxNesting = parent.opts.MaxNesting
	default:
		opts.MaxNesting = DefaultMaxNesting
	}

	if cfg.allowReuse != nil {
		opts.AllowReuse = *cfg.allowReuse
	} else if parent != nil {
		opts.AllowReuse = parent.opts.AllowReuse
	}

	return opts, nil
}

func cloneHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.Hook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}

func copyMetadata(origin map[string]any) map[string]any {
	if len(origin) == 0 {
		return nil
	}
	out := make(map[string]any, len(origin))
	for key, value := range origin {
		out[key] = value
	}
	return out
}
