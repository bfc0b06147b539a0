// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"encoding/json"
	"html"
	"reflect"
	"strings"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/collab"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/value"
)

func (in *Interpreter) execQuery(ctx context.Context, rctx *Context, node *ast.QueryNode, sb *strings.Builder) {
	if in.DB == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindQuery, "no database collaborator configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	sql := value.Stringify(in.Expr.Apply(node.SQL, snapshot))
	params := make(map[string]any, len(node.Params))
	for name, exprText := range node.Params {
		params[name] = in.Expr.Apply("{"+exprText+"}", snapshot)
	}
	qr, err := in.DB.ExecuteQuery(ctx, sql, node.Datasource, params, 0)
	result := queryResultToValue(qr, err)
	rctx.Set(node.Result, result, "")
}

func queryResultToValue(qr collab.QueryResult, err error) value.Value {
	out := map[string]value.Value{
		"success":     qr.Success && err == nil,
		"recordCount": float64(qr.RecordCount),
	}
	if err != nil {
		out["error"] = err.Error()
	} else if qr.Error != "" {
		out["error"] = qr.Error
	}
	data := make([]value.Value, len(qr.Data))
	for i, row := range qr.Data {
		data[i] = value.FromAny(map[string]any(row))
	}
	out["data"] = data
	return out
}

// execAction runs the action body only when the external HTTP signal
// matches this action's name+method; otherwise it is a silent
// no-op, not an error. On a match, the request's form values are bound
// into the body's frame before execution, and a declared redirect
// leaves a `__redirect__` token in the component context for the outer
// render layer to act on.
func (in *Interpreter) execAction(ctx context.Context, rctx *Context, node *ast.ActionNode, sb *strings.Builder) {
	if in.Action == nil || !in.Action.Matches(node.Name, node.Method) {
		return
	}
	rctx.PushFrame(FrameFunction)
	for name, v := range in.Action.FormValues() {
		rctx.Set(name, v, "")
	}
	in.renderInto(ctx, rctx, node.Body, sb)
	if node.Redirect != "" {
		// A databound template ("/users/{id}"), resolved inside the
		// action frame so it can reference form values and anything the
		// body just set.
		target := value.Stringify(in.Expr.Apply(node.Redirect, rctx.Snapshot()))
		rctx.Set("__redirect__", target, "component")
	}
	rctx.PopFrame()
}

func (in *Interpreter) execMail(ctx context.Context, rctx *Context, node *ast.MailNode, sb *strings.Builder) {
	if in.Email == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindRuntime, "no email collaborator configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	to := value.Stringify(in.Expr.Apply(node.To, snapshot))
	subject := value.Stringify(in.Expr.Apply(node.Subject, snapshot))
	body := value.Stringify(in.Expr.Apply(node.Body, snapshot))
	res, err := in.Email.SendEmail(ctx, to, subject, body, collab.EmailOptions{})
	if node.Result == "" {
		if err != nil {
			in.emitRenderError(sb, node.Kind(), err)
		}
		return
	}
	out := map[string]value.Value{"success": res.Success && err == nil}
	if err != nil {
		out["error"] = err.Error()
	} else if res.Error != "" {
		out["error"] = res.Error
	}
	rctx.Set(node.Result, out, "")
}

func (in *Interpreter) execFile(ctx context.Context, rctx *Context, node *ast.FileNode, sb *strings.Builder) {
	if in.Files == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindRuntime, "no file collaborator configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	path := value.Stringify(in.Expr.Apply(node.Path, snapshot))
	var data []byte
	if node.Data != "" {
		data = []byte(value.Stringify(in.Expr.Apply(node.Data, snapshot)))
	}
	res, err := in.Files.HandleUpload(ctx, data, path, collab.UploadOptions{})
	if node.Result == "" {
		if err != nil {
			in.emitRenderError(sb, node.Kind(), err)
		}
		return
	}
	out := map[string]value.Value{"success": res.Success && err == nil, "path": res.Path}
	if err != nil {
		out["error"] = err.Error()
	} else if res.Error != "" {
		out["error"] = res.Error
	}
	rctx.Set(node.Result, out, "")
}

func (in *Interpreter) execDump(rctx *Context, node *ast.DumpNode, sb *strings.Builder) {
	snapshot := rctx.Snapshot()
	v := in.Expr.Apply("{"+node.Value+"}", snapshot)
	maxDepth := node.Depth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	safe := dumpSafe(v, 0, maxDepth, map[uintptr]bool{})

	label := node.Label
	if label == "" {
		label = node.Value
	}
	switch node.Format {
	case "json":
		b, err := json.Marshal(safe)
		rendered := ""
		if err != nil {
			rendered = value.Stringify(v)
		} else {
			rendered = string(b)
		}
		sb.WriteString("<!-- dump ")
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(rendered)
		sb.WriteString(" -->")
	case "html":
		sb.WriteString(`<pre class="dump"><strong>`)
		sb.WriteString(html.EscapeString(label))
		sb.WriteString("</strong>\n")
		sb.WriteString(html.EscapeString(value.Stringify(value.FromAny(safe))))
		sb.WriteString("</pre>")
	default:
		sb.WriteString("<!-- dump ")
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(value.Stringify(value.FromAny(safe)))
		sb.WriteString(" -->")
	}
}

// dumpSafe bounds recursion depth and breaks reference cycles for
// q:dump. Cycles can only enter the value model through maps and slices
// that alias themselves (a Handle's object, a FromAny conversion of a
// self-referencing structure), so seen tracks container identity by
// pointer across the active descent path.
func dumpSafe(v value.Value, depth, maxDepth int, seen map[uintptr]bool) any {
	if depth >= maxDepth {
		return "<max depth>"
	}
	switch t := v.(type) {
	case map[string]value.Value:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return "<circular>"
		}
		seen[p] = true
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = dumpSafe(vv, depth+1, maxDepth, seen)
		}
		delete(seen, p)
		return out
	case []value.Value:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return "<circular>"
		}
		seen[p] = true
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = dumpSafe(vv, depth+1, maxDepth, seen)
		}
		delete(seen, p)
		return out
	case value.Handle:
		return t.String()
	default:
		return t
	}
}

func (in *Interpreter) execLog(rctx *Context, node *ast.LogNode) {
	if in.Logger == nil {
		return
	}
	snapshot := rctx.Snapshot()
	msg := value.Stringify(in.Expr.Apply(node.Message, snapshot))
	args := make([]any, 0, len(node.Fields)*2)
	for name, exprText := range node.Fields {
		args = append(args, name, in.Expr.Apply("{"+exprText+"}", snapshot))
	}
	switch node.Level {
	case "debug":
		in.Logger.Debug(msg, args...)
	case "warn":
		in.Logger.Warn(msg, args...)
	case "error":
		in.Logger.Error(msg, args...)
	default:
		in.Logger.Info(msg, args...)
	}
}
