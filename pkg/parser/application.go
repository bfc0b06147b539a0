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

// parseApplication parses the q:application root: its datasource
// declarations, its named components, and its render-target-specific
// collection wrappers (q:scenes/q:screens/q:prefabs/q:behaviors/q:windows,
// each holding ui:/qt:/qg: children appropriate to the declared type).
func (p *Parser) parseApplication(dec *xml.Decoder, start xml.StartElement, path string) (*ast.ApplicationNode, error) {
	pos := posOf(dec)
	app := &ast.ApplicationNode{
		ID:          attrString(start, "id"),
		Type:        ast.ApplicationType(attrStringDefault(start, "type", string(ast.AppHTML))),
		Engine:      attrString(start, "engine"),
		Datasources: make(map[string]*ast.DatasourceNode),
	}
	app.Pos = pos

	for {
		tok, err := dec.Token()
		if err != nil {
			return app, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return app, nil
		case xml.CharData:
			// Whitespace between top-level declarations; ignored.
		case xml.StartElement:
			child := t.Copy()
			ns := namespaceOf(child.Name)
			local := child.Name.Local

			switch {
			case ns == "q" && local == "datasource":
				ds, derr := p.parseDatasource(dec, child, path)
				if derr != nil {
					return app, derr
				}
				app.Datasources[ds.ID] = ds

			case ns == "q" && local == "component":
				comp, cerr := p.parseComponent(dec, child, path)
				if cerr != nil {
					return app, cerr
				}
				app.Components = append(app.Components, comp)

			case ns == "q" && local == "scenes":
				nodes, serr := p.parseAnyNodeList(dec, path)
				if serr != nil {
					return app, serr
				}
				app.Scenes = append(app.Scenes, nodes...)

			case ns == "q" && local == "screens":
				nodes, serr := p.parseAnyNodeList(dec, path)
				if serr != nil {
					return app, serr
				}
				app.Screens = append(app.Screens, nodes...)

			case ns == "q" && local == "prefabs":
				nodes, serr := p.parseAnyNodeList(dec, path)
				if serr != nil {
					return app, serr
				}
				app.Prefabs = append(app.Prefabs, nodes...)

			case ns == "q" && local == "behaviors":
				nodes, serr := p.parseAnyNodeList(dec, path)
				if serr != nil {
					return app, serr
				}
				app.Behaviors = append(app.Behaviors, nodes...)

			case ns == "q" && local == "windows":
				nodes, serr := p.parseAnyNodeList(dec, path)
				if serr != nil {
					return app, serr
				}
				app.Windows = append(app.Windows, nodes...)

			// A bare top-level widget (desktop apps that skip the
			// q:windows wrapper, games that declare qg:scene directly)
			// is accepted and routed by its own namespace.
			case ns == "qg":
				node, nerr := p.parseWidget(dec, child, path, "qg")
				if nerr != nil {
					return app, nerr
				}
				app.Scenes = append(app.Scenes, node)
			case ns == "ui":
				node, nerr := p.parseWidget(dec, child, path, "ui")
				if nerr != nil {
					return app, nerr
				}
				app.Screens = append(app.Screens, node)
			case ns == "qt":
				node, nerr := p.parseWidget(dec, child, path, "qt")
				if nerr != nil {
					return app, nerr
				}
				app.Screens = append(app.Screens, node)

			default:
				return app, errUnknownTag(path, ns, local, dec)
			}
		}
	}
}

// parseAnyNodeList consumes children of a pure collection-wrapper element
// (q:scenes, q:screens, ...) until its EndElement, dispatching each child
// through parseAnyNode regardless of namespace.
func (p *Parser) parseAnyNodeList(dec *xml.Decoder, path string) ([]ast.Node, error) {
	var out []ast.Node
	for {
		tok, err := dec.Token()
		if err != nil {
			return out, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return out, nil
		case xml.StartElement:
			node, perr := p.parseAnyNode(dec, t.Copy(), path)
			if perr != nil {
				return out, perr
			}
			if node != nil {
				out = append(out, node)
			}
		}
	}
}

// parseDatasource reads a q:datasource declaration. It carries no
// meaningful children; attributes beyond id/type are preserved verbatim
// in Attrs for the collaborator that binds to this datasource
// to interpret (connection strings, endpoints, pool sizes, ...).
func (p *Parser) parseDatasource(dec *xml.Decoder, start xml.StartElement, path string) (*ast.DatasourceNode, error) {
	pos := posOf(dec)
	attrs := make(ast.Attrs, len(start.Attr))
	for _, a := range start.Attr {
		if a.Name.Local == "id" || a.Name.Local == "type" {
			continue
		}
		attrs[a.Name.Local] = coerceAttrValue(a.Value)
	}
	if err := skipElement(dec); err != nil {
		return nil, err
	}
	n := &ast.DatasourceNode{
		ID:    attrString(start, "id"),
		Type:  ast.DatasourceType(attrString(start, "type")),
		Attrs: attrs,
	}
	n.Pos = pos
	return n, nil
}

// parseComponent parses a q:component element (root-level document or
// nested declaration) into its name and ordered statement body.
func (p *Parser) parseComponent(dec *xml.Decoder, start xml.StartElement, path string) (*ast.ComponentNode, error) {
	pos := posOf(dec)
	name := attrString(start, "name")
	statements, err := p.parseStatementList(dec, path)
	if err != nil {
		return nil, err
	}
	n := &ast.ComponentNode{Name: name, Statements: statements}
	n.Pos = pos
	return n, nil
}
