package scoped

import (
	"time"
)

// Response stores a typed result produced by an evaluator.
type Response[T any] struct {
	Value T
}

// EvalContext carries the inputs a rule expression is evaluated against.
// Current holds the binding of the scope the rule is about: the resolved
// current instance for queries, or the candidate instance for open guards.
type EvalContext struct {
	Current  any
	TypeName string
	Depth    int
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
}

func (ctx EvalContext) withDefaultNow() EvalContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx EvalContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx EvalContext) withDefaultMaps() EvalContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx EvalContext) withDefaults() EvalContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx EvalContext) typeLabel() string {
	if ctx.TypeName != "" {
		return ctx.TypeName
	}
	return "unknown"
}

// currentBinding flattens Current into the map form injected into evaluator
// environments. Instances expose values by implementing Binder; anything
// else contributes no bindings.
func (ctx EvalContext) currentBinding() map[string]any {
	switch v := ctx.Current.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case Binder:
		return v.Binding()
	default:
		return nil
	}
}

// Evaluator executes rule expressions against an evaluation context.
type Evaluator interface {
	Evaluate(ctx EvalContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx EvalContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}
