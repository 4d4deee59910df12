package scoped

import (
	"fmt"
	"runtime"
	"strings"
)

// CallSite identifies where a scope was opened. Capture is best effort and
// only feeds diagnostics; a missing site never affects lifecycle behaviour.
type CallSite struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (s CallSite) String() string {
	if s.File == "" {
		return "somewhere"
	}
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// SiteCapture resolves the call site skip frames above itself, following
// runtime.Caller skip semantics. Implementations report false when no frame
// information is available.
type SiteCapture func(skip int) (CallSite, bool)

// RuntimeSiteCapture is the default SiteCapture backed by runtime.Caller.
func RuntimeSiteCapture(skip int) (CallSite, bool) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return CallSite{}, false
	}
	site := CallSite{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		site.Function = fn.Name()
	}
	return site, true
}

// FormatTrace renders one line per open instance on the type's owning stack
// for the calling goroutine, bottom of the stack first, each line prefixed
// with prefix. It never fails; an instance without a captured site renders as
// "opened somewhere".
func (t *Type[T]) FormatTrace(prefix string) string {
	return t.fam.formatTrace(prefix)
}

func (f *family) formatTrace(prefix string) string {
	stack, ok := defaultRegistry.lookup(f.owner)
	if !ok || len(stack.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range stack.entries {
		b.WriteString(prefix)
		b.WriteString(entry.traceEntry())
		b.WriteByte('\n')
	}
	return b.String()
}

func (st *scopeState) traceEntry() string {
	name := "scope"
	if st.fam != nil {
		name = st.fam.name
	}
	if st.site != nil {
		return fmt.Sprintf("%s(%s) opened at %s", name, st.shortID(), st.site)
	}
	return fmt.Sprintf("%s(%s) opened somewhere", name, st.shortID())
}
