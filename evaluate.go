package scoped

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEvaluator = errors.New("scoped: evaluator not configured")

// Evaluate executes expr against the type's resolved current scope using the
// configured evaluator (an expr-lang evaluator by default). The environment
// exposes "current" (the current instance's binding), "type", "depth",
// "now", "args", and "metadata".
func (t *Type[T]) Evaluate(expr string) (Response[any], error) {
	return t.EvaluateWith(t.evalContext(), expr)
}

// EvaluateWith executes expr using ctx, filling in the type name, depth, and
// current binding when ctx leaves them unset.
func (t *Type[T]) EvaluateWith(ctx EvalContext, expr string) (Response[any], error) {
	if expr == "" {
		return Response[any]{}, fmt.Errorf("scoped: expression must not be empty")
	}
	evaluator, err := t.fam.resolveEvaluator()
	if err != nil {
		return Response[any]{}, err
	}
	if ctx.TypeName == "" {
		ctx.TypeName = t.fam.name
	}
	if ctx.Current == nil {
		if v, ok := t.CurrentIfAny(); ok {
			ctx.Current = any(v)
			ctx.Depth = t.Depth()
		}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = copyMetadata(t.fam.metadata)
	}
	ctx = ctx.withDefaults()

	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.typeLabel(), evalErr)
	t.fam.evaluatorLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Type:     ctx.typeLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return Response[any]{}, evalErr
	}
	return Response[any]{Value: value}, nil
}

func (t *Type[T]) evalContext() EvalContext {
	ctx := EvalContext{
		TypeName: t.fam.name,
		Depth:    t.Depth(),
		Metadata: copyMetadata(t.fam.metadata),
	}
	if v, ok := t.CurrentIfAny(); ok {
		ctx.Current = any(v)
	}
	return ctx
}

func (f *family) resolveEvaluator() (Evaluator, error) {
	f.evalOnce.Do(func() {
		if f.evaluator != nil {
			return
		}
		var exprOpts []ExprEvaluatorOption
		if f.cache != nil {
			exprOpts = append(exprOpts, ExprWithProgramCache(f.cache))
		}
		if f.functions != nil {
			exprOpts = append(exprOpts, ExprWithFunctionRegistry(f.functions))
		}
		f.evaluator = NewExprEvaluator(exprOpts...)
	})
	if f.evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return f.evaluator, nil
}

func (f *family) evaluatorLogger() EvaluatorLogger {
	if f.logger != nil {
		return f.logger
	}
	return noopEvaluatorLogger{}
}

// checkGuard runs the configured guard rule for a prospective open. The
// environment's "current" is the candidate instance; "depth" is the stack
// depth before the push.
func (f *family) checkGuard(candidate Instance, depth int) error {
	if f.guard == "" {
		return nil
	}
	f.guardOnce.Do(func() {
		evaluator, err := f.resolveEvaluator()
		if err != nil {
			f.guardErr = err
			return
		}
		f.guardRule, f.guardErr = evaluator.Compile(f.guard)
	})
	engine := evaluatorEngineName(f.evaluator)
	if f.guardErr != nil {
		return wrapEvaluationError(engine, f.guard, f.name, f.guardErr)
	}

	ctx := EvalContext{
		Current:  candidate,
		TypeName: f.name,
		Depth:    depth,
		Metadata: copyMetadata(f.metadata),
	}.withDefaults()

	start := time.Now()
	value, err := f.guardRule.Evaluate(ctx)
	duration := time.Since(start)
	err = wrapEvaluationError(engine, f.guard, f.name, err)
	f.evaluatorLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     f.guard,
		Type:     f.name,
		Duration: duration,
		Err:      err,
	})
	if err != nil {
		return err
	}

	allowed, ok := value.(bool)
	if !ok {
		return wrapEvaluationError(engine, f.guard, f.name,
			fmt.Errorf("guard must evaluate to bool, got %T", value))
	}
	if !allowed {
		st := candidate.state()
		return newLifecycleError(f.name, st.shortID(), ErrGuardRejected,
			fmt.Sprintf("guard %q rejected %s", f.guard, f.name),
			f.formatTrace("  "))
	}
	return nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*scoped.exprEvaluator":
		return "expr"
	case "*scoped.celEvaluator":
		return "cel"
	case "*scoped.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
