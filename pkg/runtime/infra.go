// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"strings"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/value"
)

// execMessage implements MessageNode's publish/send/request dispatch
// . The node's EffectiveType determines which broker operation fires; a
// q:message with neither Topic nor Queue (which Validate reports) is sent
// to the empty queue name.
func (in *Interpreter) execMessage(ctx context.Context, rctx *Context, node *ast.MessageNode, sb *strings.Builder) {
	if in.Broker == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindBroker, "no broker configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	body := in.Expr.Apply("{"+node.Body+"}", snapshot)
	headers := make(map[string]string, len(node.Headers))
	for k, exprText := range node.Headers {
		headers[k] = value.Stringify(in.Expr.Apply("{"+exprText+"}", snapshot))
	}

	var msgID string
	var replyBody any
	var err error
	switch node.EffectiveType() {
	case "request":
		replyBody, err = in.Broker.Request(ctx, node.Queue, body, headers, node.TimeoutMS)
	case "send":
		msgID, err = in.Broker.Send(ctx, node.Queue, body, headers)
	case "publish":
		msgID, err = in.Broker.Publish(ctx, node.Topic, body, headers)
	}
	result := map[string]value.Value{"success": err == nil}
	if err != nil {
		result["error"] = err.Error()
	} else if replyBody != nil {
		result["data"] = value.FromAny(replyBody)
	} else {
		result["messageId"] = msgID
	}
	if node.Result != "" {
		rctx.Set(node.Result, result, "")
	} else if err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// execSubscribe registers a durable handler on the broker. The
// handler body — inline statements or a named q:function — runs in a
// fresh Context per delivery, so state set by one delivery never leaks
// into the next. ack="auto" settles the delivery after the body returns;
// ack="manual" leaves settlement to q:ack/q:nack inside the body. A body
// that panics is logged and, in manual mode, nacked with requeue.
func (in *Interpreter) execSubscribe(ctx context.Context, rctx *Context, node *ast.SubscribeNode, sb *strings.Builder) {
	if in.Broker == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindBroker, "no broker configured"))
		return
	}
	body := node.Body
	if len(body) == 0 {
		desc, ok := rctx.LookupFunction(node.Handler)
		if !ok {
			in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindRuntime, "subscribe handler %q not registered", node.Handler))
			return
		}
		body = desc.Body
	}
	manual := node.Ack == "manual"
	_, err := in.Broker.Subscribe(node.Topic, func(msg BrokerMessage) {
		in.runDeliveryBody(ctx, body, msg, manual, node.Topic)
	})
	if err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// runDeliveryBody executes a subscription/consumer body for one delivery
// and applies the ack-mode settlement policy.
func (in *Interpreter) runDeliveryBody(ctx context.Context, body []ast.Node, msg BrokerMessage, manual bool, source string) {
	defer func() {
		if r := recover(); r != nil {
			if in.Logger != nil {
				in.Logger.Error("subscription handler panicked", "source", source, "message_id", msg.ID, "panic", r)
			}
			if manual {
				_ = in.Broker.Nack(msg, true)
			}
		}
	}()
	handlerCtx := NewContext()
	handlerCtx.Set("message", value.Handle{Kind: "delivery", Obj: msg}, "")
	var handlerSb strings.Builder
	in.renderInto(ctx, handlerCtx, body, &handlerSb)
	if !manual {
		_ = in.Broker.Ack(msg)
	}
}

// execQueueDecl declares a queue binding and, when the node carries a
// Handler, wires it as a prefetch consumer.
func (in *Interpreter) execQueueDecl(rctx *Context, node *ast.QueueNode, sb *strings.Builder) {
	if in.Broker == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindBroker, "no broker configured"))
		return
	}
	var handler func(msg BrokerMessage)
	if node.Handler != "" {
		if desc, ok := rctx.LookupFunction(node.Handler); ok {
			handler = func(msg BrokerMessage) {
				in.runDeliveryBody(context.Background(), desc.Body, msg, false, node.Name)
			}
		}
	}
	if err := in.Broker.DeclareQueue(node.Name, node.Prefetch, node.DLQ, handler); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// execAck/execNack resolve the `message` expression to a delivery handle
// stashed as a value.Handle by the broker dispatch path and forward to
// Broker.Ack/Nack; a second ack/nack on the same delivery is the
// broker's responsibility to treat as a no-op.
func (in *Interpreter) execAck(rctx *Context, node *ast.MessageAckNode, sb *strings.Builder) {
	if in.Broker == nil {
		return
	}
	msg, ok := resolveDeliveryHandle(in, rctx, node.Message)
	if !ok {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindBroker, "q:ack: %q did not resolve to a delivery handle", node.Message))
		return
	}
	if err := in.Broker.Ack(msg); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

func (in *Interpreter) execNack(rctx *Context, node *ast.MessageNackNode, sb *strings.Builder) {
	if in.Broker == nil {
		return
	}
	msg, ok := resolveDeliveryHandle(in, rctx, node.Message)
	if !ok {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindBroker, "q:nack: %q did not resolve to a delivery handle", node.Message))
		return
	}
	if err := in.Broker.Nack(msg, node.Requeue); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

func resolveDeliveryHandle(in *Interpreter, rctx *Context, exprText string) (BrokerMessage, bool) {
	v := in.Expr.Apply("{"+exprText+"}", rctx.Snapshot())
	h, ok := v.(value.Handle)
	if !ok {
		return BrokerMessage{}, false
	}
	msg, ok := h.Obj.(BrokerMessage)
	return msg, ok
}

// execSchedule registers a cron/interval trigger with the job component
// ; the interpreter contributes no rendered output.
func (in *Interpreter) execSchedule(node *ast.ScheduleNode, sb *strings.Builder) {
	if in.Jobs == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindJob, "no job service configured"))
		return
	}
	if err := in.Jobs.Schedule(node.Handler, node.Interval, node.Cron, node.Handler); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// execThread dispatches a handler onto the bounded worker pool (the
// Thread service); fire-and-forget from the interpreter's perspective.
func (in *Interpreter) execThread(rctx *Context, node *ast.ThreadNode, sb *strings.Builder) {
	if in.Jobs == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindJob, "no job service configured"))
		return
	}
	snapshot := rctx.Snapshot()
	args := make(map[string]any, len(node.Args))
	for k, exprText := range node.Args {
		args[k] = in.Expr.Apply("{"+exprText+"}", snapshot)
	}
	if err := in.Jobs.RunThread(node.Handler, node.Handler, node.Priority, args); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// execJob enqueues a named unit of work onto the durable job queue
// , storing the assigned job id under Result when declared.
func (in *Interpreter) execJob(rctx *Context, node *ast.JobNode, sb *strings.Builder) {
	if in.Jobs == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindJob, "no job service configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	args := make(map[string]any, len(node.Args))
	for k, exprText := range node.Args {
		args[k] = in.Expr.Apply("{"+exprText+"}", snapshot)
	}
	maxAttempts := node.MaxRetry
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	jobID, err := in.Jobs.Dispatch(node.Name, node.Handler, args, maxAttempts)
	if node.Result == "" {
		if err != nil {
			in.emitRenderError(sb, node.Kind(), err)
		}
		return
	}
	out := map[string]value.Value{"success": err == nil}
	if err != nil {
		out["error"] = err.Error()
	} else {
		out["jobId"] = jobID
	}
	rctx.Set(node.Result, out, "")
}

// execAgentExecute runs a declared ReAct agent against a databound
// prompt, storing the AgentResult record under Result.
func (in *Interpreter) execAgentExecute(ctx context.Context, rctx *Context, node *ast.AgentExecuteNode, sb *strings.Builder) {
	if in.Agent == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindAgent, "no agent service configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	prompt := value.Stringify(in.Expr.Apply(node.Prompt, snapshot))
	res, err := in.Agent.Execute(ctx, node.Agent, prompt)
	out := map[string]value.Value{
		"success":          err == nil && res.Success,
		"iterations":       float64(res.Iterations),
		"actionCount":      float64(res.ActionCount),
		"executionTimeMs":  float64(res.ExecutionTimeMS),
		"promptTokens":     float64(res.PromptTokens),
		"completionTokens": float64(res.CompletionTokens),
		"totalTokens":      float64(res.TotalTokens),
	}
	if err != nil {
		out["error"] = err.Error()
	} else if res.Error != "" {
		out["error"] = res.Error
	} else {
		out["result"] = res.Result
	}
	rctx.Set(node.Result, out, "")
	if node.Transcript != "" {
		rctx.Set(node.Transcript, res.Transcript, "")
	}
}

// execWSOpen/execWSSend/execWSClose delegate to the websocket service
// . WebSocketNode itself is idempotent: opening an already-open
// logical name is the service's job to no-op or fan into the group.
func (in *Interpreter) execWSOpen(node *ast.WebSocketNode, sb *strings.Builder) {
	if in.WS == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindRuntime, "no websocket service configured"))
		return
	}
	if err := in.WS.Open(node.Name, node.URL); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

func (in *Interpreter) execWSSend(ctx context.Context, rctx *Context, node *ast.WebSocketSendNode, sb *strings.Builder) {
	if in.WS == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindRuntime, "no websocket service configured"), nil)
		return
	}
	body := in.Expr.Apply("{"+node.Body+"}", rctx.Snapshot())
	ok, err := in.WS.Send(node.Connection, body)
	if node.Result == "" {
		if err != nil {
			in.emitRenderError(sb, node.Kind(), err)
		}
		return
	}
	out := map[string]value.Value{"success": ok && err == nil}
	if err != nil {
		out["error"] = err.Error()
	}
	rctx.Set(node.Result, out, "")
}

func (in *Interpreter) execWSClose(node *ast.WebSocketCloseNode, sb *strings.Builder) {
	if in.WS == nil {
		return
	}
	if err := in.WS.Close(node.Connection); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// execSearch runs a knowledge-base similarity search or RAG answer
// , the q:query lowering target for `datasource type="knowledge"`.
func (in *Interpreter) execSearch(ctx context.Context, rctx *Context, node *ast.SearchNode, sb *strings.Builder) {
	if in.Knowledge == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindRuntime, "no knowledge service configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	query := value.Stringify(in.Expr.Apply(node.Query, snapshot))
	topK := node.TopK
	if topK <= 0 {
		topK = 5
	}
	res, err := in.Knowledge.Search(ctx, node.Knowledge, query, topK, node.Answer)
	if err != nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), err, nil)
		return
	}
	out := map[string]value.Value{"success": true}
	if node.Answer {
		out["answer"] = res.Answer
		out["confidence"] = res.Confidence
	}
	hits := make([]value.Value, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = map[string]value.Value{
			"content": h.Content, "relevance": h.Relevance,
			"source": h.Source, "chunkIndex": float64(h.ChunkIndex),
		}
	}
	out["data"] = hits
	rctx.Set(node.Result, out, "")
}

// execLLMGenerate runs a single chat/generate call against a registered
// LLM binding, the q:query lowering target for `datasource
// type="llm"`.
func (in *Interpreter) execLLMGenerate(ctx context.Context, rctx *Context, node *ast.LLMGenerateNode, sb *strings.Builder) {
	if in.LLM == nil {
		in.reportOrEmit(sb, node.Result, rctx, node.Kind(), qerr.New(qerr.KindLLMProvider, "no llm service configured"), nil)
		return
	}
	snapshot := rctx.Snapshot()
	prompt := value.Stringify(in.Expr.Apply(node.Prompt, snapshot))
	system := ""
	if node.System != "" {
		system = value.Stringify(in.Expr.Apply(node.System, snapshot))
	}
	temperature := 0.0
	if node.Temperature != "" {
		if t, ok := value.ToFloat64(in.Expr.Apply("{"+node.Temperature+"}", snapshot)); ok {
			temperature = t
		}
	}
	res, err := in.LLM.Generate(ctx, node.LLM, prompt, system, temperature)
	out := map[string]value.Value{"success": err == nil && res.Success}
	if err != nil {
		out["error"] = err.Error()
	} else if res.Error != "" {
		out["error"] = res.Error
	} else {
		out["data"] = res.Content
		out["model"] = res.Model
	}
	rctx.Set(node.Result, out, "")
}

// execPersist implements the standalone PersistNode directive: it
// groups one or more previously-set variables under a shared scope and
// key prefix and asks the persistence collaborator to save each.
func (in *Interpreter) execPersist(ctx context.Context, rctx *Context, node *ast.PersistNode, sb *strings.Builder) {
	if in.Persist == nil {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindStorage, "no persistence service configured"))
		return
	}
	v, ok := rctx.Lookup(node.Name)
	if !ok {
		in.emitRenderError(sb, node.Kind(), qerr.New(qerr.KindStorage, "q:persist: %q is not set in the current context", node.Name))
		return
	}
	key := effectivePersistKey(node.PersistKey, node.Prefix, node.Name)
	if err := in.Persist.Save(ctx, node.Scope, key, v, node.TTLSeconds, node.Encrypt); err != nil {
		in.emitRenderError(sb, node.Kind(), err)
	}
}

// effectivePersistKey implements the persistence-key precedence: PersistKey >
// Prefix+Name > Name.
func effectivePersistKey(persistKey, prefix, name string) string {
	if persistKey != "" {
		return persistKey
	}
	if prefix != "" {
		return prefix + name
	}
	return name
}
