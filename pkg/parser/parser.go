// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parser turns a source XML document into the typed AST in
// pkg/ast. Dispatch is namespace-aware: the root `q:` framework
// namespace plus `ui:`/`qt:`/`qg:` sub-namespaces, each with its own
// tag vocabulary but able to recurse back into the root parser for
// mixed content (a `q:set` inside a `ui:panel`).
//
// A document may omit `xmlns:` declarations entirely. Go's encoding/xml
// already falls back to the bare prefix as Name.Space when no matching
// xmlns declaration is in scope, which is exactly the namespace identity
// this parser keys dispatch on — so "documents may omit xmlns:
// declarations" falls out of not requiring a declared URI
// rather than rewriting the token stream to inject one.
package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/value"
)

// wellKnownNamespaces maps declared xmlns URIs to their canonical short
// namespace identity, for documents that do declare real URIs rather
// than relying on bare-prefix fallback.
var wellKnownNamespaces = map[string]string{
	"https://quantumlang.dev/q":  "q",
	"https://quantumlang.dev/ui": "ui",
	"https://quantumlang.dev/qt": "qt",
	"https://quantumlang.dev/qg": "qg",
}

// Parser parses documents into AST nodes. A single Parser may be reused
// across many Parse calls; it holds a weak-in-spirit reference to the
// most recently parsed application so that components parsed afterward
// in the same run can resolve `q:query`'s unified-datasource lowering
// against that application's datasource map. Concurrent Parse
// calls are safe; lastApp access is mutex-guarded.
type Parser struct {
	mu      sync.Mutex
	lastApp *ast.ApplicationNode
}

// New constructs a Parser.
func New() *Parser { return &Parser{} }

// ParseFile reads and parses path, matching pkg/cache.ParseFunc's
// signature so a Parser method can be passed directly to
// cache.Cache.GetOrParse.
func (p *Parser) ParseFile(path string, content []byte) (ast.Node, error) {
	if content == nil {
		var err error
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return p.parse(path, content)
}

// ParseString parses an in-memory fragment or document with no backing
// file path (used for test fixtures and string-literal components).
func (p *Parser) ParseString(content string) (ast.Node, error) {
	return p.parse("<string>", []byte(content))
}

func (p *Parser) parse(path string, content []byte) (n ast.Node, err error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	defer func() {
		if r := recover(); r != nil {
			err = qerr.New(qerr.KindParse, "panic while parsing %s: %v", path, r).WithPath(path)
			n = nil
		}
	}()

	// Advance to the first StartElement, skipping the XML prolog.
	var root xml.StartElement
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			return nil, qerr.New(qerr.KindParse, "empty document").WithPath(path)
		}
		if terr != nil {
			return nil, parseErrorAt(dec, path, terr)
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se.Copy()
			break
		}
	}

	local := root.Name.Local
	switch local {
	case "application":
		app, perr := p.parseApplication(dec, root, path)
		if perr != nil {
			return nil, perr
		}
		p.mu.Lock()
		p.lastApp = app
		p.mu.Unlock()
		if errs := app.Validate(); len(errs) > 0 {
			return app, aggregateValidation(path, errs)
		}
		return app, nil
	case "component":
		comp, perr := p.parseComponent(dec, root, path)
		if perr != nil {
			return nil, perr
		}
		if errs := comp.Validate(); len(errs) > 0 {
			return comp, aggregateValidation(path, errs)
		}
		return comp, nil
	default:
		return nil, qerr.New(qerr.KindParse, "root element must be q:application or q:component, got %q", local).WithPath(path)
	}
}

// LastApplication returns the most recently parsed application, or nil.
// Used to resolve a standalone component's unified-query lowering when
// it is parsed in the same run as its owning application.
func (p *Parser) LastApplication() *ast.ApplicationNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApp
}

func aggregateValidation(path string, errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return qerr.New(qerr.KindValidation, "%s", strings.Join(msgs, "; ")).WithPath(path)
}

func parseErrorAt(dec *xml.Decoder, path string, cause error) error {
	line, col := dec.InputPos()
	return qerr.Wrap(qerr.KindParse, cause, "malformed XML").WithPath(path).WithPos(line, col)
}

// namespaceOf resolves a decoded xml.Name to this package's canonical
// short namespace identity: "q", "ui", "qt", "qg", or "" for anything
// else (raw HTML-like markup, or an unprefixed element).
func namespaceOf(name xml.Name) string {
	if name.Space == "" {
		return ""
	}
	if short, ok := wellKnownNamespaces[name.Space]; ok {
		return short
	}
	switch name.Space {
	case "q", "ui", "qt", "qg":
		return name.Space
	default:
		return ""
	}
}

// --- attribute helpers -----------------------------------------------

func attrString(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrStringDefault(start xml.StartElement, name, def string) string {
	if v := attrString(start, name); v != "" {
		return v
	}
	return def
}

func attrInt(start xml.StartElement, name string, def int) int {
	v := attrString(start, name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func attrBool(start xml.StartElement, name string, def bool) bool {
	v := attrString(start, name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// stripExpr trims a single pair of surrounding "{" "}" if the whole
// attribute value is exactly one expression, matching how AST node
// fields store "raw expression text, {expr} already stripped".
// Attribute values that mix literal text with `{expr}` are kept as-is
// for the databinding resolver to substitute at render time.
func stripExpr(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' && !strings.Contains(s[1:len(s)-1], "{") {
		return s[1 : len(s)-1]
	}
	return s
}

func posOf(dec *xml.Decoder) ast.Pos {
	line, col := dec.InputPos()
	return ast.Pos{Line: line, Column: col}
}

// coerceAttrValue coerces known-shaped literals for generic attribute bags
// (DatasourceNode.Attrs): known-shaped numeric/boolean literals coerce,
// everything else is preserved as a string.
func coerceAttrValue(s string) value.Value {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// skipElement consumes tokens until the matching EndElement for an
// already-consumed StartElement, discarding content. Used for unknown
// tags inside elements that tolerate but don't need to preserve them.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// errUnknownTag formats the "unknown tags within a known
// namespace raise ParseError" condition.
func errUnknownTag(path, ns, local string, dec *xml.Decoder) error {
	return qerr.New(qerr.KindParse, "unknown tag %s:%s", ns, local).WithPath(path).WithPos(dec.InputPos())
}
