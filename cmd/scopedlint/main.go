// Command scopedlint is a linter that checks scope open/close discipline.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/goliatone/go-scoped/lint"
)

func main() {
	singlechecker.Main(lint.Analyzer)
}
