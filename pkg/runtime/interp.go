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
	"strings"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/collab"
	"github.com/quantumlang/core/pkg/expr"
	"github.com/quantumlang/core/pkg/logging"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/value"
)

// Interpreter walks a parsed statement list against a Context,
// delegating effectful tags to whichever collaborators were wired in.
// Every collaborator field is optional: a nil collaborator makes most of
// its corresponding node kinds fail with a RenderError (or, for nodes with
// a result sink, capture that failure into the result) rather than panic.
// q:ack, q:nack, q:websocket-close, q:action and q:log do nothing when
// their collaborator is nil.
type Interpreter struct {
	Expr   *expr.Engine
	Logger *logging.Logger

	DB      collab.Database
	Email   collab.Email
	Files   collab.FileUpload
	Action  collab.ActionSignal
	Storage collab.StorageAdapter

	Broker    BrokerService
	Jobs      JobService
	Agent     AgentService
	LLM       LLMService
	WS        WebSocketService
	Knowledge KnowledgeService
	Persist   PersistService

	// Datasources holds the application's declared datasources by id.
	// The parser has already done the type-based lowering, and the
	// statement handlers in this package do not read this map.
	Datasources map[string]*ast.DatasourceNode
}

// New constructs an Interpreter with a fresh expression engine at the
// default LRU size (1000) and the given logger; pass nil for
// logger to use logging.Default().
func New(logger *logging.Logger) *Interpreter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Interpreter{Expr: expr.NewEngine(0), Logger: logger}
}

// Render walks stmts against rctx, returning the concatenated rendered
// output. A RenderError from a no-result-sink node is appended to the
// output stream as an HTML comment, not returned as a Go error: a broken
// statement renders inline. Nothing at this layer aborts the walk; parse
// errors abort earlier, in pkg/parser.
func (in *Interpreter) Render(ctx context.Context, rctx *Context, stmts []ast.Node) string {
	var sb strings.Builder
	in.renderInto(ctx, rctx, stmts, &sb)
	return sb.String()
}

func (in *Interpreter) renderInto(ctx context.Context, rctx *Context, stmts []ast.Node, sb *strings.Builder) *returnSignal {
	for _, stmt := range stmts {
		if sig := in.execStatement(ctx, rctx, stmt, sb); sig != nil {
			return sig
		}
	}
	return nil
}

// execStatement dispatches a single node. It returns a non-nil
// *returnSignal only when a ReturnNode was encountered and should
// unwind the enclosing function body.
func (in *Interpreter) execStatement(ctx context.Context, rctx *Context, n ast.Node, sb *strings.Builder) *returnSignal {
	switch node := n.(type) {
	case *ast.HTMLNode:
		sb.WriteString(in.renderHTML(ctx, rctx, node))
	case *ast.TextNode:
		sb.WriteString(value.Stringify(in.Expr.Apply(node.Text, rctx.Snapshot())))
	case *ast.UIWidgetNode:
		sb.WriteString(in.renderGenericWidget(ctx, rctx, node.Tag, node.Attrs, node.Children))
	case *ast.TerminalWidgetNode:
		sb.WriteString(in.renderGenericWidget(ctx, rctx, node.Tag, node.Attrs, node.Children))
	case *ast.GameWidgetNode:
		sb.WriteString(in.renderGenericWidget(ctx, rctx, node.Tag, node.Attrs, node.Children))

	case *ast.SetNode:
		in.execSet(ctx, rctx, node, sb)
	case *ast.IfNode:
		return in.execIf(ctx, rctx, node, sb)
	case *ast.LoopNode:
		return in.execLoop(ctx, rctx, node, sb)
	case *ast.FunctionNode:
		rctx.RegisterFunction(&FunctionDescriptor{Name: node.Name, Params: node.Params, Body: node.Body})
	case *ast.FunctionCallNode:
		result, err := in.execCall(ctx, rctx, node)
		if err != nil {
			in.reportOrEmit(sb, node.Result, rctx, node.Kind(), err, nil)
			return nil
		}
		if node.Result != "" {
			rctx.Set(node.Result, result, "")
		} else {
			sb.WriteString(value.Stringify(result))
		}
	case *ast.ReturnNode:
		var v value.Value
		if node.Value != "" {
			v = in.Expr.Apply("{"+node.Value+"}", rctx.Snapshot())
		}
		return &returnSignal{value: v}

	case *ast.QueryNode:
		in.execQuery(ctx, rctx, node, sb)
	case *ast.ActionNode:
		in.execAction(ctx, rctx, node, sb)
	case *ast.MailNode:
		in.execMail(ctx, rctx, node, sb)
	case *ast.FileNode:
		in.execFile(ctx, rctx, node, sb)
	case *ast.DumpNode:
		in.execDump(rctx, node, sb)
	case *ast.LogNode:
		in.execLog(rctx, node)

	case *ast.MessageNode:
		in.execMessage(ctx, rctx, node, sb)
	case *ast.SubscribeNode:
		in.execSubscribe(ctx, rctx, node, sb)
	case *ast.QueueNode:
		in.execQueueDecl(rctx, node, sb)
	case *ast.MessageAckNode:
		in.execAck(rctx, node, sb)
	case *ast.MessageNackNode:
		in.execNack(rctx, node, sb)

	case *ast.ScheduleNode:
		in.execSchedule(node, sb)
	case *ast.ThreadNode:
		in.execThread(rctx, node, sb)
	case *ast.JobNode:
		in.execJob(rctx, node, sb)

	case *ast.AgentNode:
		// registration only: the agent engine owns the descriptor once
		// materialized by pkg/agent; the interpreter's job is just to
		// make the tool/instruction AST reachable at AgentExecuteNode
		// time, which it does via Datasources-style lookup in pkg/agent.
	case *ast.AgentExecuteNode:
		in.execAgentExecute(ctx, rctx, node, sb)

	case *ast.WebSocketNode:
		in.execWSOpen(node, sb)
	case *ast.WebSocketHandlerNode:
		// handler registration is owned by pkg/wsocket's event dispatch;
		// nothing to emit.
	case *ast.WebSocketSendNode:
		in.execWSSend(ctx, rctx, node, sb)
	case *ast.WebSocketCloseNode:
		in.execWSClose(node, sb)

	case *ast.KnowledgeNode:
		// registration only; ingestion is triggered by an explicit
		// external call, not by encountering the declaration.
	case *ast.SearchNode:
		in.execSearch(ctx, rctx, node, sb)

	case *ast.LLMNode:
		// registration only.
	case *ast.LLMGenerateNode:
		in.execLLMGenerate(ctx, rctx, node, sb)

	case *ast.PersistNode:
		in.execPersist(ctx, rctx, node, sb)

	default:
		in.emitRenderError(sb, n.Kind(), qerr.New(qerr.KindRender, "unhandled node kind %q", n.Kind()))
	}
	return nil
}

// reportOrEmit implements the error-capture policy: capture into resultVar if
// one was declared, else emit a RenderError comment inline.
func (in *Interpreter) reportOrEmit(sb *strings.Builder, resultVar string, rctx *Context, kind string, err error, onSuccess func() value.Value) {
	if resultVar != "" {
		rctx.Set(resultVar, errorResult(err), "")
		return
	}
	in.emitRenderError(sb, kind, err)
}

func (in *Interpreter) emitRenderError(sb *strings.Builder, kind string, err error) {
	re := qerr.Wrap(qerr.KindRender, err, "statement failed").WithNode(kind)
	if in.Logger != nil {
		in.Logger.Error("render error", "node", kind, "error", err)
	}
	sb.WriteString(fmt.Sprintf("<!-- %s: %s -->", re.Kind, err.Error()))
}

func errorResult(err error) value.Value {
	return map[string]value.Value{"success": false, "error": err.Error()}
}

// execSet evaluates node.Value and combines it with the variable's
// existing value per node.Op (assign/add/subtract/multiply/divide,
// defaulting the existing value to 0 for add/subtract and 1 for
// multiply/divide when the name was not previously set), then, when
// node.Persist names a scope, asks the persistence collaborator to
// mirror the new value ("save happens on every successful SetNode
// with persist set").
func (in *Interpreter) execSet(ctx context.Context, rctx *Context, node *ast.SetNode, sb *strings.Builder) {
	var rhs value.Value
	if node.Value != "" {
		rhs = in.Expr.Apply("{"+node.Value+"}", rctx.Snapshot())
	}
	v := applySetOp(node.Op, rctx.Get(node.Name), rhs)
	rctx.Set(node.Name, v, node.Scope)

	if node.Persist == "" {
		return
	}
	if in.Persist == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindStorage, "no persistence service configured"))
		return
	}
	key := effectivePersistKey(node.PersistKey, "", node.Name)
	if err := in.Persist.Save(ctx, node.Persist, key, v, node.PersistTTLSeconds, node.PersistEncrypt); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// applySetOp implements the q:set operation set against the variable's
// current value, defaulting an absent/undefined existing value to 0 for
// add/subtract and 1 for multiply/divide.
func applySetOp(op string, existing, rhs value.Value) value.Value {
	switch op {
	case "", "assign":
		return rhs
	case "add", "subtract", "multiply", "divide":
		base := 0.0
		if op == "multiply" || op == "divide" {
			base = 1.0
		}
		if n, ok := value.ToFloat64(existing); ok {
			base = n
		}
		rn, _ := value.ToFloat64(rhs)
		switch op {
		case "add":
			return base + rn
		case "subtract":
			return base - rn
		case "multiply":
			return base * rn
		case "divide":
			return base / rn
		}
	}
	return rhs
}

func (in *Interpreter) execIf(ctx context.Context, rctx *Context, node *ast.IfNode, sb *strings.Builder) *returnSignal {
	ok, err := in.Expr.EvaluateCondition(node.Condition, rctx.Snapshot())
	if err != nil {
		in.emitRenderError(sb, node.Kind(), err)
		return nil
	}
	if ok {
		return in.renderInto(ctx, rctx, node.Then, sb)
	}
	for _, ei := range node.ElseIfs {
		ok, err := in.Expr.EvaluateCondition(ei.Condition, rctx.Snapshot())
		if err != nil {
			in.emitRenderError(sb, node.Kind(), err)
			return nil
		}
		if ok {
			return in.renderInto(ctx, rctx, ei.Body, sb)
		}
	}
	if node.Else != nil {
		return in.renderInto(ctx, rctx, node.Else, sb)
	}
	return nil
}

func (in *Interpreter) execLoop(ctx context.Context, rctx *Context, node *ast.LoopNode, sb *strings.Builder) *returnSignal {
	src := in.Expr.Apply("{"+node.Source+"}", rctx.Snapshot())
	items := toIterable(src)
	rctx.PushFrame(FrameLoop)
	defer rctx.PopFrame()
	for i, item := range items {
		rctx.SetLoopVars(node.Var, item, i, len(items))
		if sig := in.renderInto(ctx, rctx, node.Body, sb); sig != nil {
			return sig
		}
	}
	return nil
}

// toIterable resolves a LoopNode's source value into a concrete slice,
// dereferencing a QueryResult-shaped handle's `.data` field.
func toIterable(v value.Value) []value.Value {
	switch t := v.(type) {
	case []value.Value:
		return t
	case map[string]value.Value:
		if data, ok := t["data"]; ok {
			if l, ok := data.([]value.Value); ok {
				return l
			}
		}
	}
	return nil
}

func (in *Interpreter) execCall(ctx context.Context, rctx *Context, node *ast.FunctionCallNode) (value.Value, error) {
	desc, ok := rctx.LookupFunction(node.Name)
	if !ok {
		return nil, qerr.New(qerr.KindRuntime, "call to undefined function %q", node.Name)
	}
	fnFrame := rctx.PushFrame(FrameFunction)
	defer rctx.PopFrame()

	snapshot := rctx.Snapshot()
	for _, p := range desc.Params {
		argExpr, has := node.Args[p.Name]
		var v value.Value
		switch {
		case has:
			v = in.Expr.Apply("{"+argExpr+"}", snapshot)
		case p.Default != "":
			v = in.Expr.Apply("{"+p.Default+"}", snapshot)
		default:
			v = value.Undefined
		}
		fnFrame.vars[p.Name] = v
	}

	var sb strings.Builder
	sig := in.renderInto(ctx, rctx, desc.Body, &sb)
	if sig != nil {
		return sig.value, nil
	}
	return sb.String(), nil
}
