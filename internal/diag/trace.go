// Package diag captures lightweight call-stack traces for fatal protocol
// errors, so a ProtocolViolation carries enough context to find the
// offending call site without the core performing any logging of its own.
package diag

import (
	"fmt"
	"runtime"
)

// Trace returns a formatted call stack starting at runtime.Caller(skip)
// (skip=0 is Trace itself, skip=1 its caller), one frame per line,
// innermost first.
func Trace(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}
