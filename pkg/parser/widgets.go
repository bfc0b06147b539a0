// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"encoding/xml"

	"github.com/quantumlang/core/pkg/ast"
)

// parseWidget parses a ui:/qt:/qg: tag into the generic widget shape:
// Tag carries the vocabulary, Attrs/Children stay raw so the
// render layer — not the parser — owns the closed set of known widget
// tags. Children recurse through parseStatementList, which is itself
// namespace-general, so a `q:if`/`q:loop` nested inside a widget (or
// another widget nested inside it) is handled exactly like any other
// statement body.
func (p *Parser) parseWidget(dec *xml.Decoder, start xml.StartElement, path, ns string) (ast.Node, error) {
	pos := posOf(dec)
	attrs := rawAttrMap(start)
	children, err := p.parseStatementList(dec, path)
	if err != nil {
		return nil, err
	}
	switch ns {
	case "ui":
		n := &ast.UIWidgetNode{Tag: start.Name.Local, Attrs: attrs, Children: children}
		n.Pos = pos
		return n, nil
	case "qt":
		n := &ast.TerminalWidgetNode{Tag: start.Name.Local, Attrs: attrs, Children: children}
		n.Pos = pos
		return n, nil
	case "qg":
		n := &ast.GameWidgetNode{Tag: start.Name.Local, Attrs: attrs, Children: children}
		n.Pos = pos
		return n, nil
	default:
		return nil, errUnknownTag(path, ns, start.Name.Local, dec)
	}
}

// parseHTMLNode parses a namespace-less tag as raw markup passed through
// to the render target, with {expr} substitution deferred to render time
// .
func (p *Parser) parseHTMLNode(dec *xml.Decoder, start xml.StartElement, path string) (ast.Node, error) {
	pos := posOf(dec)
	attrs := rawAttrMap(start)
	children, err := p.parseStatementList(dec, path)
	if err != nil {
		return nil, err
	}
	n := &ast.HTMLNode{
		Tag: start.Name.Local, Attrs: attrs, Children: children,
		SelfClose: len(children) == 0,
	}
	n.Pos = pos
	return n, nil
}

// rawAttrMap collects an element's non-namespace-declaration attributes
// verbatim (braces intact), the shape HTMLNode/widget Attrs store so the
// databinding resolver sees the original `{expr}` text at render time.
func rawAttrMap(start xml.StartElement) map[string]string {
	out := make(map[string]string, len(start.Attr))
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		out[a.Name.Local] = a.Value
	}
	return out
}
