// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/collab"
	"github.com/quantumlang/core/pkg/value"
)

func render(t *testing.T, in *Interpreter, stmts []ast.Node) string {
	t.Helper()
	if in == nil {
		in = New(nil)
	}
	return in.Render(context.Background(), NewContext(), stmts)
}

// `<p>{x}</p>` after two q:set statements must render exactly
// "<p>3</p>".
func TestCounterIncrementRendersSum(t *testing.T) {
	stmts := []ast.Node{
		&ast.SetNode{Name: "x", Value: "1", Op: "assign"},
		&ast.SetNode{Name: "x", Value: "x + 2", Op: "assign"},
		&ast.HTMLNode{Tag: "p", Children: []ast.Node{&ast.TextNode{Text: "{x}"}}},
	}
	out := render(t, nil, stmts)
	assert.Equal(t, "<p>3</p>", out)
}

type stubDB struct {
	result collab.QueryResult
}

func (s *stubDB) ExecuteQuery(ctx context.Context, sql, datasourceID string, params map[string]any, maxRows int) (collab.QueryResult, error) {
	return s.result, nil
}

// A q:loop over a query result's `.data` renders one <li> per row in
// order.
func TestLoopOverQueryResultData(t *testing.T) {
	db := &stubDB{result: collab.QueryResult{
		Success: true,
		Data: []collab.Row{
			{"id": 1, "name": "A"},
			{"id": 2, "name": "B"},
		},
		RecordCount: 2,
	}}
	in := New(nil)
	in.DB = db

	stmts := []ast.Node{
		&ast.QueryNode{Datasource: "main", SQL: "select * from users", Result: "users"},
		&ast.LoopNode{Source: "users.data", Var: "u", Body: []ast.Node{
			&ast.HTMLNode{Tag: "li", Children: []ast.Node{&ast.TextNode{Text: "{u.name}"}}},
		}},
	}
	out := render(t, in, stmts)
	assert.Equal(t, "<li>A</li><li>B</li>", out)
}

// Scope discipline: Writes made inside a loop frame
// must not leak once the loop exits, but component-scope writes from
// within that frame must remain visible.
func TestScopeDisciplineLoopFrame(t *testing.T) {
	stmts := []ast.Node{
		&ast.LoopNode{Source: "list(range(0, 3))", Var: "i", Body: []ast.Node{
			&ast.SetNode{Name: "inner", Value: "i", Op: "assign"},
			&ast.SetNode{Name: "total", Value: "i", Op: "add", Scope: "component"},
		}},
		&ast.TextNode{Text: "{total}"},
	}
	rctx := NewContext()
	in := New(nil)
	out := in.Render(context.Background(), rctx, stmts)

	// total accumulates across loop iterations (component-scoped write
	// survives popFrame); inner was only ever set inside the loop frame
	// and must be invisible after the loop body returns.
	assert.Equal(t, "3", out) // list(range(0,3)) -> [0,1,2], summed via component-scope add
	_, ok := rctx.Lookup("inner")
	assert.False(t, ok, "loop-scoped variable must not leak past PopFrame")
}

// Function calls push a fresh frame, bind parameters, and surface a
// ReturnNode's value either via the `result` attribute or as inline
// output when no result sink is named.
func TestFunctionCallResultAndInline(t *testing.T) {
	stmts := []ast.Node{
		&ast.FunctionNode{
			Name:   "double",
			Params: []*ast.ParamNode{{Name: "n"}},
			Body: []ast.Node{
				&ast.ReturnNode{Value: "n * 2"},
			},
		},
		&ast.FunctionCallNode{Name: "double", Args: map[string]string{"n": "4"}, Result: "doubled"},
		&ast.TextNode{Text: "{doubled}"},
	}
	out := render(t, nil, stmts)
	assert.Equal(t, "8", out)
}

// q:set's operation attribute combines the evaluated value with the
// variable's existing value, defaulting the existing value to
// 0 for add/subtract and 1 for multiply/divide.
func TestSetOperations(t *testing.T) {
	stmts := []ast.Node{
		&ast.SetNode{Name: "a", Value: "5", Op: "add"},      // 0 + 5
		&ast.SetNode{Name: "a", Value: "3", Op: "subtract"}, // 5 - 3
		&ast.SetNode{Name: "b", Value: "4", Op: "multiply"}, // 1 * 4
		&ast.SetNode{Name: "b", Value: "2", Op: "divide"},   // 4 / 2
	}
	rctx := NewContext()
	New(nil).Render(context.Background(), rctx, stmts)
	assert.Equal(t, value.Value(2.0), rctx.Get("a"))
	assert.Equal(t, value.Value(2.0), rctx.Get("b"))
}

type memPersist struct {
	saved map[string]value.Value
}

func (m *memPersist) Save(ctx context.Context, scope, key string, v any, ttlSeconds int, encrypt bool) error {
	if m.saved == nil {
		m.saved = map[string]value.Value{}
	}
	m.saved[scope+"/"+key] = v
	return nil
}

// A q:set with `persist` set must mirror its newly-computed value to
// the persistence collaborator under the effective key.
func TestSetPersistsWhenRequested(t *testing.T) {
	p := &memPersist{}
	in := New(nil)
	in.Persist = p

	stmts := []ast.Node{
		&ast.SetNode{Name: "theme", Value: "\"dark\"", Persist: "local", PersistKey: "ui.theme"},
	}
	render(t, in, stmts)
	require.Contains(t, p.saved, "local/ui.theme")
	assert.Equal(t, value.Value("dark"), p.saved["local/ui.theme"])
}

// A node with no result sink that fails renders an inline HTML
// comment instead of propagating a Go error.
func TestRenderErrorInlineComment(t *testing.T) {
	stmts := []ast.Node{
		&ast.FunctionCallNode{Name: "undefined_fn"},
	}
	out := render(t, nil, stmts)
	assert.Contains(t, out, "<!--")
	assert.Contains(t, out, "undefined_fn")
}

// An effectful node with a declared result variable captures its
// failure into that variable instead of propagating or rendering inline.
func TestQueryFailureCapturedInResult(t *testing.T) {
	in := New(nil) // no DB collaborator wired
	stmts := []ast.Node{
		&ast.QueryNode{Datasource: "main", SQL: "select 1", Result: "r"},
	}
	rctx := NewContext()
	out := in.Render(context.Background(), rctx, stmts)
	assert.Empty(t, out)
	v := rctx.Get("r")
	m, ok := v.(map[string]value.Value)
	require.True(t, ok)
	assert.Equal(t, false, m["success"])
}

type stubAction struct {
	name, method string
	form         map[string]string
}

func (s *stubAction) Matches(actionName, method string) bool {
	return actionName == s.name && method == s.method
}
func (s *stubAction) FormValues() map[string]string { return s.form }

// q:action's body runs only when the HTTP collaborator reports a
// matching request, with form values bound into the body's frame and a
// declared redirect leaving __redirect__ in the component scope.
func TestActionGatedOnRequestMatch(t *testing.T) {
	in := New(nil)
	in.Action = &stubAction{name: "save", method: "POST", form: map[string]string{"id": "42"}}

	matched := []ast.Node{
		&ast.ActionNode{Name: "save", Method: "POST", Redirect: "/users/{id}", Body: []ast.Node{
			&ast.TextNode{Text: "saved {id}"},
		}},
	}
	rctx := NewContext()
	out := in.Render(context.Background(), rctx, matched)
	assert.Equal(t, "saved 42", out)
	assert.Equal(t, value.Value("/users/42"), rctx.Get("__redirect__"))

	unmatched := []ast.Node{
		&ast.ActionNode{Name: "delete", Method: "POST", Body: []ast.Node{&ast.TextNode{Text: "never"}}},
	}
	out = render(t, in, unmatched)
	assert.Empty(t, out)
}

// stubBroker records subscriptions and lets a test drive a delivery
// through the registered handler synchronously.
type stubBroker struct {
	handlers map[string]func(BrokerMessage)
	acked    []string
	nacked   []string
}

func newStubBroker() *stubBroker { return &stubBroker{handlers: map[string]func(BrokerMessage){}} }

func (s *stubBroker) Publish(ctx context.Context, topic string, body any, headers map[string]string) (string, error) {
	return "pub-1", nil
}
func (s *stubBroker) Send(ctx context.Context, queue string, body any, headers map[string]string) (string, error) {
	return "snd-1", nil
}
func (s *stubBroker) Request(ctx context.Context, queue string, body any, headers map[string]string, timeoutMS int) (any, error) {
	return "reply", nil
}
func (s *stubBroker) Subscribe(topicPattern string, handler func(msg BrokerMessage)) (string, error) {
	s.handlers[topicPattern] = handler
	return "sub-1", nil
}
func (s *stubBroker) DeclareQueue(name string, prefetch int, dlq string, handler func(msg BrokerMessage)) error {
	if handler != nil {
		s.handlers[name] = handler
	}
	return nil
}
func (s *stubBroker) Ack(msg BrokerMessage) error { s.acked = append(s.acked, msg.ID); return nil }
func (s *stubBroker) Nack(msg BrokerMessage, requeue bool) error {
	s.nacked = append(s.nacked, msg.ID)
	return nil
}
func (s *stubBroker) QueueInfo(name string) (map[string]any, error) { return map[string]any{}, nil }

// q:subscribe with an inline body runs the body in a fresh context per
// delivery, exposes the delivery as `message`, and auto-acks after the
// body returns when ack="auto" (the default).
func TestSubscribeInlineBodyAutoAck(t *testing.T) {
	b := newStubBroker()
	in := New(nil)
	in.Broker = b

	stmts := []ast.Node{
		&ast.SubscribeNode{
			Topic: "orders.*", Ack: "auto",
			Body: []ast.Node{&ast.TextNode{Text: "{message.body}"}},
		},
	}
	rctx := NewContext()
	out := in.Render(context.Background(), rctx, stmts)
	assert.Empty(t, out)

	h := b.handlers["orders.*"]
	require.NotNil(t, h)
	h(BrokerMessage{ID: "m1", Topic: "orders.created", Body: "hello"})
	assert.Equal(t, []string{"m1"}, b.acked)
	assert.Empty(t, b.nacked)
}

// ack="manual" leaves settlement to the body's own q:ack call.
func TestSubscribeManualAckViaBody(t *testing.T) {
	b := newStubBroker()
	in := New(nil)
	in.Broker = b

	stmts := []ast.Node{
		&ast.SubscribeNode{
			Topic: "orders.*", Ack: "manual",
			Body: []ast.Node{&ast.MessageAckNode{Message: "message"}},
		},
	}
	in.Render(context.Background(), NewContext(), stmts)

	h := b.handlers["orders.*"]
	require.NotNil(t, h)
	h(BrokerMessage{ID: "m2", Topic: "orders.created", Body: "hello"})
	assert.Equal(t, []string{"m2"}, b.acked)
}

// q:dump's json format bounds depth and renders inside an HTML comment;
// the html format escapes into a <pre> block.
func TestDumpFormats(t *testing.T) {
	stmts := []ast.Node{
		&ast.SetNode{Name: "user", Value: `{"name": "A", "id": 1}`, Op: "assign"},
		&ast.DumpNode{Value: "user", Format: "json", Depth: 5},
	}
	out := render(t, nil, stmts)
	assert.Contains(t, out, "<!-- dump user:")
	assert.Contains(t, out, `"name":"A"`)

	htmlStmts := []ast.Node{
		&ast.SetNode{Name: "v", Value: `"<b>"`, Op: "assign"},
		&ast.DumpNode{Value: "v", Format: "html", Label: "value"},
	}
	out = render(t, nil, htmlStmts)
	assert.Contains(t, out, `<pre class="dump">`)
	assert.Contains(t, out, "&lt;b&gt;")
}

// Depth exhaustion replaces deeper structure instead of recursing
// forever.
func TestDumpDepthLimit(t *testing.T) {
	nested := map[string]value.Value{"a": map[string]value.Value{"b": map[string]value.Value{"c": "deep"}}}
	got := dumpSafe(nested, 0, 2, map[uintptr]bool{})
	m := got.(map[string]any)
	inner := m["a"].(map[string]any)
	assert.Equal(t, "<max depth>", inner["b"])
}

// A self-referencing container renders as <circular> rather than
// overflowing the stack.
func TestDumpCircularReference(t *testing.T) {
	m := map[string]value.Value{}
	m["self"] = m
	got := dumpSafe(m, 0, 10, map[uintptr]bool{})
	out := got.(map[string]any)
	assert.Equal(t, "<circular>", out["self"])
}

func TestIfElseIfElse(t *testing.T) {
	mk := func(x int) []ast.Node {
		return []ast.Node{
			&ast.SetNode{Name: "x", Value: "", Op: "assign"},
			&ast.IfNode{
				Condition: "x > 10",
				Then:      []ast.Node{&ast.TextNode{Text: "big"}},
				ElseIfs: []ast.ElseIfBranch{
					{Condition: "x > 0", Body: []ast.Node{&ast.TextNode{Text: "small"}}},
				},
				Else: []ast.Node{&ast.TextNode{Text: "nonpositive"}},
			},
		}
	}
	for _, tc := range []struct {
		x    string
		want string
	}{
		{"20", "big"},
		{"5", "small"},
		{"-1", "nonpositive"},
	} {
		stmts := mk(0)
		stmts[0].(*ast.SetNode).Value = tc.x
		out := render(t, nil, stmts)
		assert.Equal(t, tc.want, out, "x=%s", tc.x)
	}
}
