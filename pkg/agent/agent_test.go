// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumlang/core/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) ChatRaw(ctx context.Context, llmID string, messages []llm.Message, opts llm.GenerateOptions) (llm.Response, error) {
	if s.calls >= len(s.replies) {
		return llm.Response{Success: true, Content: `{"final": "ran out of scripted replies"}`}, nil
	}
	reply := s.replies[s.calls]
	s.calls++
	return llm.Response{Success: true, Content: reply}, nil
}

func TestExecuteDirectFinalAnswer(t *testing.T) {
	svc := New(&scriptedLLM{replies: []string{`{"final": "the answer is 42"}`}}, nil)
	svc.RegisterAgent("assistant", Config{LLMBinding: "chat", SystemPrompt: "be helpful"})

	res, err := svc.Execute(context.Background(), "assistant", "what is the answer?")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "the answer is 42", res.Result)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0, res.ActionCount)
}

func TestExecuteFinishActionOnFirstTurn(t *testing.T) {
	svc := New(&scriptedLLM{replies: []string{`{"action": "finish", "result": "ok"}`}}, nil)
	svc.RegisterAgent("assistant", Config{
		LLMBinding: "chat",
		Tools:      []ToolSpec{{Name: "dummy", Description: "unused", Handler: "dummyHandler"}},
	})

	res, err := svc.Execute(context.Background(), "assistant", "say ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0, res.ActionCount)
}

func TestExecutePlainTextIsFinalAnswer(t *testing.T) {
	svc := New(&scriptedLLM{replies: []string{"the answer is 42, no json wrapper"}}, nil)
	svc.RegisterAgent("assistant", Config{LLMBinding: "chat"})

	res, err := svc.Execute(context.Background(), "assistant", "what is the answer?")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "the answer is 42, no json wrapper", res.Result)
}

func TestExecuteInvokesToolThenFinishes(t *testing.T) {
	scripted := &scriptedLLM{replies: []string{
		"```json\n{\"action\": \"lookup\", \"args\": {\"id\": \"7\"}}\n```",
		`{"final": "item 7 is a widget"}`,
	}}
	invoked := false
	invoker := func(ctx context.Context, handler string, args map[string]any) (string, error) {
		invoked = true
		assert.Equal(t, "lookupHandler", handler)
		assert.Equal(t, "7", args["id"])
		return "widget", nil
	}
	svc := New(scripted, invoker)
	svc.RegisterAgent("assistant", Config{
		LLMBinding: "chat",
		Tools:      []ToolSpec{{Name: "lookup", Description: "looks up an item", Handler: "lookupHandler"}},
	})

	res, err := svc.Execute(context.Background(), "assistant", "look up item 7")
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.True(t, res.Success)
	assert.Equal(t, "item 7 is a widget", res.Result)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ActionCount)
}

func TestExecuteUnknownAgentErrors(t *testing.T) {
	svc := New(&scriptedLLM{}, nil)
	_, err := svc.Execute(context.Background(), "missing", "hi")
	assert.Error(t, err)
}

func TestExecuteExhaustsMaxIterations(t *testing.T) {
	scripted := &scriptedLLM{replies: []string{
		"```json\n{\"action\": \"noop\", \"args\": {}}\n```",
		"```json\n{\"action\": \"noop\", \"args\": {}}\n```",
	}}
	invoker := func(ctx context.Context, handler string, args map[string]any) (string, error) {
		return "done", nil
	}
	svc := New(scripted, invoker)
	svc.RegisterAgent("looper", Config{
		LLMBinding:    "chat",
		MaxIterations: 2,
		Tools:         []ToolSpec{{Name: "noop", Handler: "noopHandler"}},
	})

	res, err := svc.Execute(context.Background(), "looper", "loop forever")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "max_iterations")
	assert.Equal(t, 2, res.Iterations)
}

type erroringLLM struct{}

func (erroringLLM) ChatRaw(ctx context.Context, llmID string, messages []llm.Message, opts llm.GenerateOptions) (llm.Response, error) {
	return llm.Response{}, errors.New("connection refused")
}

func TestExecuteLLMFailureIsCapturedNotReturned(t *testing.T) {
	svc := New(erroringLLM{}, nil)
	svc.RegisterAgent("assistant", Config{LLMBinding: "chat"})

	res, err := svc.Execute(context.Background(), "assistant", "hi")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection refused")
}

func TestExecuteHonorsTimeout(t *testing.T) {
	slow := slowLLM{delay: 50 * time.Millisecond}
	svc := New(slow, nil)
	svc.RegisterAgent("assistant", Config{LLMBinding: "chat", Timeout: 5 * time.Millisecond, MaxIterations: 100})

	res, err := svc.Execute(context.Background(), "assistant", "hi")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

type slowLLM struct{ delay time.Duration }

func (s slowLLM) ChatRaw(ctx context.Context, llmID string, messages []llm.Message, opts llm.GenerateOptions) (llm.Response, error) {
	select {
	case <-time.After(s.delay):
		return llm.Response{Success: true, Content: `{"action":"noop","args":{}}`}, nil
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
}

func TestExtractActionFencedJSON(t *testing.T) {
	a := extractAction("some preamble\n```json\n{\"action\": \"search\", \"args\": {\"q\": \"go\"}}\n```\n")
	require.NotNil(t, a)
	assert.Equal(t, "search", a.Tool)
	assert.Equal(t, "go", a.Args["q"])
}

func TestExtractActionFinalWrapped(t *testing.T) {
	a := extractAction(`{"final": "done"}`)
	require.NotNil(t, a)
	assert.Equal(t, "done", a.Final)
}

func TestExtractActionInlineBalancedObject(t *testing.T) {
	a := extractAction(`I'll call the tool now: {"action": "lookup", "args": {"id": "1"}} and wait.`)
	require.NotNil(t, a)
	assert.Equal(t, "lookup", a.Tool)
}

func TestExtractActionReturnsNilForPlainText(t *testing.T) {
	assert.Nil(t, extractAction("just a normal sentence with no json at all"))
}

func TestExtractActionReturnsNilForUnrelatedJSON(t *testing.T) {
	assert.Nil(t, extractAction(`{"foo": "bar"}`))
}

func TestExtractActionFinishWithResult(t *testing.T) {
	a := extractAction(`{"action": "finish", "result": "done"}`)
	require.NotNil(t, a)
	assert.True(t, a.IsFinal)
	assert.Equal(t, "done", a.Final)
}

func TestExhaustedSalvagesPlainAnswer(t *testing.T) {
	// Two tool-call turns burn max_iterations; the last assistant message
	// mentions no registered tool name, so it is salvaged into Result even
	// though the run reports failure.
	scripted := &scriptedLLM{replies: []string{
		"```json\n{\"action\": \"noop\", \"args\": {}}\n```",
		`the count is probably {"action": "unknown-thing", "args": {}}`,
	}}
	invoker := func(ctx context.Context, handler string, args map[string]any) (string, error) {
		return "done", nil
	}
	svc := New(scripted, invoker)
	svc.RegisterAgent("looper", Config{
		LLMBinding:    "chat",
		MaxIterations: 2,
		Tools:         []ToolSpec{{Name: "noop", Handler: "noopHandler"}},
	})

	res, err := svc.Execute(context.Background(), "looper", "loop")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "max_iterations")
	assert.NotEmpty(t, res.Result)
}

func TestEstimateTokensIsPositiveForNonEmptyText(t *testing.T) {
	assert.Greater(t, estimateTokens("hello world, this is a test sentence"), 0)
	assert.Equal(t, 0, estimateTokens(""))
}
