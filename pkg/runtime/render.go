// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/value"
)

// voidElements is the fixed self-closing HTML element set.
var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "meta": true,
	"link": true, "area": true, "base": true, "col": true, "embed": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

func (in *Interpreter) renderHTML(ctx context.Context, rctx *Context, node *ast.HTMLNode) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(node.Tag)
	writeAttrs(&sb, in, rctx, node.Attrs)

	if voidElements[node.Tag] || node.SelfClose {
		sb.WriteString(" />")
		return sb.String()
	}
	sb.WriteByte('>')
	in.renderInto(ctx, rctx, node.Children, &sb)
	sb.WriteString("</")
	sb.WriteString(node.Tag)
	sb.WriteByte('>')
	return sb.String()
}

func (in *Interpreter) renderGenericWidget(ctx context.Context, rctx *Context, tag string, attrs map[string]string, children []ast.Node) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(tag)
	writeAttrs(&sb, in, rctx, attrs)
	sb.WriteByte('>')
	in.renderInto(ctx, rctx, children, &sb)
	sb.WriteString("</")
	sb.WriteString(tag)
	sb.WriteByte('>')
	return sb.String()
}

func writeAttrs(sb *strings.Builder, in *Interpreter, rctx *Context, attrs map[string]string) {
	if len(attrs) == 0 {
		return
	}
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	snapshot := rctx.Snapshot()
	for _, name := range names {
		resolved := in.Expr.Apply(attrs[name], snapshot)
		sb.WriteString(fmt.Sprintf(" %s=%q", name, value.Stringify(resolved)))
	}
}
