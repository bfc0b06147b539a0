// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"strconv"

	"github.com/quantumlang/core/pkg/qerr"
)

// safeBuiltins is the closed whitelist of callable names. Calls to
// any other identifier-as-function fail at parse time with
// UnsafeExpression (the grammar has no general function-definition or
// arbitrary-call form).
var safeBuiltins = map[string]bool{
	"abs": true, "min": true, "max": true, "len": true, "sum": true,
	"round": true, "int": true, "float": true, "str": true, "bool": true,
	"list": true, "dict": true, "tuple": true, "sorted": true, "range": true,
	"enumerate": true, "zip": true, "isinstance": true, "all": true,
	"any": true, "hash": true,
}

type parser struct {
	toks []token
	pos  int
}

// parseExpr parses src into an internal expression AST, rejecting any
// forbidden construct with qerr.KindUnsafeExpression and any grammar
// violation with qerr.KindSyntax.
func parseExpr(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, qerr.New(qerr.KindSyntax, "%v", err)
	}
	p := &parser{toks: toks}
	n, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, qerr.New(qerr.KindSyntax, "unexpected token %q at position %d", p.cur().text, p.cur().pos)
	}
	return n, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, text string) error {
	if p.cur().kind != kind {
		return qerr.New(qerr.KindSyntax, "expected %q, got %q at position %d", text, p.cur().text, p.cur().pos)
	}
	p.advance()
	return nil
}

// parseConditional handles `then if cond else else_` (lowest precedence).
func (p *parser) parseConditional() (node, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokIdent && p.cur().text == "if" {
		p.advance()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !(p.cur().kind == tokIdent && p.cur().text == "else") {
			return nil, qerr.New(qerr.KindSyntax, "expected 'else' in conditional expression at position %d", p.cur().pos)
		}
		p.advance()
		els, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		return &condNode{then: then, cond: cond, els: els}, nil
	}
	return then, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for (p.cur().kind == tokIdent && p.cur().text == "or") || (p.cur().kind == tokOp && p.cur().text == "||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolOpNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for (p.cur().kind == tokIdent && p.cur().text == "and") || (p.cur().kind == tokOp && p.cur().text == "&&") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolOpNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.cur().kind == tokIdent && p.cur().text == "not" {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && comparisonOps[p.cur().text] {
		op := p.advance().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	// "in"/"not in" membership
	if p.cur().kind == tokIdent && p.cur().text == "in" {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "in", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "+" || p.cur().text == "-") {
		op := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "*" || p.cur().text == "/" || p.cur().text == "%" || p.cur().text == "**") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur().kind == tokOp && (p.cur().text == "-" || p.cur().text == "+") {
		op := p.advance().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, qerr.New(qerr.KindSyntax, "expected attribute name after '.' at position %d", p.cur().pos)
			}
			name := p.advance().text
			if isDunder(name) {
				return nil, qerr.New(qerr.KindUnsafeExpression, "access to dunder attribute %q is forbidden", name)
			}
			n = &attrNode{base: n, name: name}
		case tokLBracket:
			p.advance()
			idx, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
			n = &indexNode{base: n, index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, qerr.New(qerr.KindSyntax, "invalid number literal %q", t.text)
		}
		return numberLit{value: f}, nil
	case tokString:
		p.advance()
		return stringLit{value: t.text}, nil
	case tokLParen:
		p.advance()
		n, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return n, nil
	case tokLBracket:
		p.advance()
		var items []node
		for p.cur().kind != tokRBracket {
			item, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if err := p.expect(tokRBracket, "]"); err != nil {
			return nil, err
		}
		return &listNode{items: items}, nil
	case tokLBrace:
		p.advance()
		d := &dictNode{}
		for p.cur().kind != tokRBrace {
			k, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokColon, ":"); err != nil {
				return nil, err
			}
			v, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			d.keys = append(d.keys, k)
			d.values = append(d.values, v)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if err := p.expect(tokRBrace, "}"); err != nil {
			return nil, err
		}
		return d, nil
	case tokIdent:
		return p.parseIdentOrCall()
	default:
		return nil, qerr.New(qerr.KindSyntax, "unexpected token %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseIdentOrCall() (node, error) {
	t := p.advance()
	name := t.text
	if forbiddenTokens[name] || isDunder(name) {
		return nil, qerr.New(qerr.KindUnsafeExpression, "use of %q is forbidden", name)
	}
	switch name {
	case "true":
		return boolLit{value: true}, nil
	case "false":
		return boolLit{value: false}, nil
	case "null", "none", "None":
		return nullLit{}, nil
	}
	if p.cur().kind == tokLParen {
		p.advance()
		var args []node
		for p.cur().kind != tokRParen {
			a, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		if !safeBuiltins[name] {
			return nil, qerr.New(qerr.KindUnsafeExpression, "call to %q is not in the safe built-in whitelist", name)
		}
		return &callNode{name: name, args: args}, nil
	}
	return identNode{name: name}, nil
}

// checkForbidden walks the already-lexed token stream for any standalone
// forbidden identifier, independent of grammar position, so constructs
// like attribute-chained forbidden names are also rejected regardless of
// where the recursive descent gives up. Run before parsing proper as the
// dangerous-pattern prefilter.
func checkForbidden(toks []token) error {
	for _, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if forbiddenTokens[t.text] {
			return qerr.New(qerr.KindUnsafeExpression, "use of %q is forbidden", t.text)
		}
		if isDunder(t.text) {
			return qerr.New(qerr.KindUnsafeExpression, "access to dunder name %q is forbidden", t.text)
		}
	}
	return nil
}
