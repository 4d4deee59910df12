// Package lint provides a go/analysis based analyzer that checks scope
// lifecycle discipline: every Open should be paired with a Close in the same
// function, or replaced with Do.
package lint

import (
	"errors"
	"flag"
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

// scopedPkg is the import path whose Open/Close/Do methods the analyzer
// tracks. Overridable for forks via the -scoped-pkg flag.
var scopedPkg string

func init() {
	Analyzer.Flags.StringVar(&scopedPkg, "scoped-pkg", "github.com/goliatone/go-scoped",
		"import path of the scoped package to check")
}

// Analyzer reports Open calls with no matching Close in the enclosing
// function.
var Analyzer = &analysis.Analyzer{
	Name:     "scopedlint",
	Doc:      "checks that opened scopes are closed in the same function",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
	Flags:    flag.FlagSet{},
}

var ErrNoInspector = errors.New("inspector analyzer result not found")

func run(pass *analysis.Pass) (any, error) {
	insp, ok := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if !ok {
		return nil, ErrNoInspector
	}

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.FuncLit)(nil),
	}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		var body *ast.BlockStmt
		switch fn := n.(type) {
		case *ast.FuncDecl:
			body = fn.Body
		case *ast.FuncLit:
			body = fn.Body
		}
		if body == nil {
			return
		}
		checkFunction(pass, body)
	})

	return nil, nil
}

// checkFunction inspects one function body, ignoring nested function
// literals: those are visited on their own and closing a scope inside a
// nested literal would run on the wrong goroutine anyway when spawned.
func checkFunction(pass *analysis.Pass, body *ast.BlockStmt) {
	var opens []*ast.CallExpr
	hasClose := false

	for _, stmt := range body.List {
		ast.Inspect(stmt, func(n ast.Node) bool {
			if _, isLit := n.(*ast.FuncLit); isLit {
				return false
			}
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			switch methodName(pass, call) {
			case "Open":
				opens = append(opens, call)
			case "Close":
				hasClose = true
			}
			return true
		})
	}

	if hasClose {
		return
	}
	for _, call := range opens {
		pass.Reportf(call.Lparen, "scope opened without a matching Close in this function; use Do or defer Close")
	}
}

// methodName resolves call to a method declared by the scoped package and
// returns its name, or "" when the call is something else.
func methodName(pass *analysis.Pass, call *ast.CallExpr) string {
	fn := typeutil.Callee(pass.TypesInfo, call)
	if fn == nil || fn.Pkg() == nil {
		return ""
	}
	if fn.Pkg().Path() != scopedPkg {
		return ""
	}
	if fn.Type().(*types.Signature).Recv() == nil {
		return ""
	}
	return fn.Name()
}
