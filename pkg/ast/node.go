// Package ast defines the typed abstract syntax tree produced by the
// parser (pkg/parser) and walked by the interpreter (pkg/runtime). Every
// tag in a source document lowers to exactly one concrete Go type here —
// there is no single "super node" with a field for every possible
// attribute. The interpreter dispatches on Go's own type switch, so a new
// node kind is a compile error everywhere it isn't handled instead of a
// silent no-op.
//
// Nodes are immutable once parsing completes: nothing in this package
// mutates a Node after Parse returns it, and the interpreter must not
// either (see the AST-cache sharing invariant in pkg/cache).
package ast

import "github.com/quantumlang/core/pkg/value"

// Pos is the source position of a node, used for ParseError/ValidationError
// reporting. Zero value means "unknown" (e.g. for synthesized nodes).
type Pos struct {
	Line   int
	Column int
}

// Node is implemented by every AST variant.
type Node interface {
	// Kind returns the stable tag name used in error messages, toDict()
	// output, and interpreter dispatch logging (e.g. "q:set", "ui:panel").
	Kind() string
	// NodePos returns the node's source position.
	NodePos() Pos
	// ToDict returns a canonical, deterministic record representation of
	// the node used for serialization, golden tests, and debugging.
	ToDict() map[string]any
	// Validate returns the node's own invariant violations. It never
	// panics and never recurses into children — the parser aggregates
	// child errors separately so a single malformed leaf doesn't hide
	// its siblings.
	Validate() []error
}

// base is embedded by every concrete node to provide Pos storage and the
// NodePos accessor; each node defines its own Kind, ToDict and Validate.
type base struct {
	Pos Pos
}

func (b base) NodePos() Pos { return b.Pos }

// Attrs is the generic bag for attributes preserved verbatim when a tag
// carries attributes the parser doesn't know about: known
// numeric/boolean attributes are coerced during parsing, everything else
// stays a string under its original name.
type Attrs map[string]value.Value

func (a Attrs) String(name string) (string, bool) {
	v, ok := a[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a Attrs) Bool(name string, def bool) bool {
	v, ok := a[name]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func (a Attrs) Int(name string, def int) int {
	v, ok := a[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return def
}

func toDictAttrs(a Attrs) map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// childDicts renders a child-node list for ToDict output.
func childDicts(children []Node) []any {
	out := make([]any, len(children))
	for i, c := range children {
		if c == nil {
			continue
		}
		out[i] = c.ToDict()
	}
	return out
}

// requiredString returns a ValidationError-shaped error if attribute name
// is empty. Shared by every node's Validate().
func requiredString(kind, name, val string) error {
	if val == "" {
		return &ValidationError{Kind: kind, Field: name, Message: "required attribute is missing or empty"}
	}
	return nil
}

// ValidationError is returned from Node.Validate(); it is adapted into a
// *qerr.Error (KindValidation) by the parser when aggregating.
type ValidationError struct {
	Kind    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Kind + ": " + e.Field + ": " + e.Message
}
