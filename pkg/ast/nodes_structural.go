package ast

// HTMLNode is a raw markup element preserved from source: its Tag and
// Attrs pass through to the render target verbatim, with {expr}
// substitution applied to Attrs values and Children text by the
// databinding resolver (pkg/expr) at render time, never at parse time.
type HTMLNode struct {
	base
	Tag       string
	Attrs     map[string]string // raw attribute text, pre-databind
	Children  []Node
	SelfClose bool
}

func (n *HTMLNode) Kind() string { return n.Tag }

func (n *HTMLNode) Validate() []error {
	var errs []error
	if err := requiredString(n.Tag, "tag", n.Tag); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *HTMLNode) ToDict() map[string]any {
	attrs := make(map[string]any, len(n.Attrs))
	for k, v := range n.Attrs {
		attrs[k] = v
	}
	return map[string]any{
		"kind":      n.Kind(),
		"tag":       n.Tag,
		"attrs":     attrs,
		"children":  childDicts(n.Children),
		"selfClose": n.SelfClose,
	}
}

// TextNode is a literal text run, possibly containing one or more
// `{expr}` placeholders resolved by the databinding resolver.
type TextNode struct {
	base
	Text string
}

func (n *TextNode) Kind() string { return "#text" }

func (n *TextNode) Validate() []error { return nil }

func (n *TextNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "text": n.Text}
}
