// Package qerr defines the wire-visible error taxonomy shared by every
// component of the runtime core. Errors are not tied to any one Go error
// type hierarchy; instead each failure is tagged with a Kind so that
// callers (interpreter, CLI, render adapters) can branch on category
// without parsing error strings.
package qerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a runtime error. The set is closed and
// never grows implicitly.
type Kind string

const (
	KindParse            Kind = "ParseError"
	KindValidation       Kind = "ValidationError"
	KindUnsafeExpression Kind = "UnsafeExpression"
	KindSyntax           Kind = "SyntaxError"
	KindUndefinedName    Kind = "UndefinedName"
	KindRuntime          Kind = "RuntimeError"
	KindRender           Kind = "RenderError"
	KindQuery            Kind = "QueryError"
	KindBroker           Kind = "BrokerError"
	KindTimeout          Kind = "TimeoutError"
	KindJob              Kind = "JobError"
	KindAgent            Kind = "AgentError"
	KindLLMProvider      Kind = "LLMProviderError"
	KindStorage          Kind = "StorageError"
)

// Error is the concrete error type carried across the core. It is
// deliberately flat (no inheritance hierarchy) so every collaborator can
// construct one the same way.
type Error struct {
	Kind    Kind
	Message string
	Node    string // identity of the offending AST node, if any
	Path    string // source document path, if any
	Line    int    // 1-based line, 0 if unknown
	Column  int    // 1-based column, 0 if unknown
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		if e.Line > 0 {
			msg = fmt.Sprintf("%s (%s:%d:%d)", msg, e.Path, e.Line, e.Column)
		} else {
			msg = fmt.Sprintf("%s (%s)", msg, e.Path)
		}
	}
	if e.Node != "" {
		msg = fmt.Sprintf("%s [node=%s]", msg, e.Node)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, qerr.KindX) style checks by comparing Kind via
// a sentinel wrapper; callers more commonly use HasKind below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a bare Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithNode returns a copy of e annotated with the offending node identity.
func (e *Error) WithNode(node string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Node = node
	return &cp
}

// WithPath returns a copy of e annotated with the source document path.
func (e *Error) WithPath(path string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Path = path
	return &cp
}

// WithPos returns a copy of e annotated with line/column.
func (e *Error) WithPos(line, column int) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Line, cp.Column = line, column
	return &cp
}

// HasKind reports whether err is (or wraps) a *qerr.Error of the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *qerr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
