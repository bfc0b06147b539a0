// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent implements the agent reasoning engine: a
// sequential ReAct loop over a registered tool set, driving
// pkg/llm.Client's ChatRaw surface and satisfying pkg/runtime's
// AgentService.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantumlang/core/pkg/llm"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/runtime"
)

// defaultMaxIterations bounds a run when the agent declaration omits
// max_iterations.
const defaultMaxIterations = 10

// defaultTimeout bounds a run when the agent declaration omits a
// wall-clock timeout.
const defaultTimeout = 60 * time.Second

// ToolParam documents one argument of a tool's call schema, surfaced to
// the LLM in the system prompt so it knows what to pass.
type ToolParam struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolSpec is a registered callable tool: Handler names the q:function
// body the caller (cmd/quantum) resolves and invokes on our behalf.
type ToolSpec struct {
	Name        string
	Description string
	Handler     string
	Params      []ToolParam
}

// ToolInvoker runs the q:function body bound to a tool's Handler name
// with the LLM-supplied arguments, returning its result (stringified
// into the next turn) or an error (also surfaced to the LLM as a tool
// failure, not aborting the run). Supplied externally so pkg/agent
// never needs to import pkg/ast/pkg/parser/pkg/runtime's interpreter.
type ToolInvoker func(ctx context.Context, handlerName string, args map[string]any) (string, error)

// Config is a registered agent's declaration, resolved
// by the caller after parsing.
type Config struct {
	LLMBinding    string
	SystemPrompt  string
	Tools         []ToolSpec
	MaxIterations int
	Timeout       time.Duration
}

// ChatClient is the subset of pkg/llm.Client the ReAct loop drives;
// *llm.Client satisfies it structurally. Kept narrow so tests can
// substitute a scripted stub instead of a live provider.
type ChatClient interface {
	ChatRaw(ctx context.Context, llmID string, messages []llm.Message, opts llm.GenerateOptions) (llm.Response, error)
}

// Service is the agent registry and ReAct executor.
type Service struct {
	LLM     ChatClient
	Invoker ToolInvoker

	mu       sync.RWMutex
	registry map[string]Config
}

// New constructs an empty registry over llmClient. invoker may be nil if
// no registered agent declares any tools.
func New(llmClient ChatClient, invoker ToolInvoker) *Service {
	return &Service{LLM: llmClient, Invoker: invoker, registry: make(map[string]Config)}
}

// RegisterAgent binds name to cfg, replacing any prior registration
// under the same name (the last q:agent declaration with a given name
// wins, matching pkg/llm.Client.Register's convention).
func (s *Service) RegisterAgent(name string, cfg Config) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = cfg
}

func (s *Service) config(name string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.registry[name]
	return c, ok
}

// Execute satisfies runtime.AgentService: runs agentName's ReAct loop
// against prompt to completion, timeout, or max_iterations exhaustion.
// Every call returns either success=true or a
// populated Error, never a Go error for a run that actually started —
// only an unresolvable agent name or missing LLM client is a Go error.
func (s *Service) Execute(ctx context.Context, agentName, prompt string) (runtime.AgentResult, error) {
	cfg, ok := s.config(agentName)
	if !ok {
		return runtime.AgentResult{}, qerr.New(qerr.KindAgent, "agent: no such agent %q", agentName)
	}
	if s.LLM == nil {
		return runtime.AgentResult{}, qerr.New(qerr.KindAgent, "agent: no llm client configured")
	}

	deadline := time.Now().Add(cfg.Timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	run := &run{svc: s, cfg: cfg}
	result := run.loop(ctx, prompt)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

// run holds one Execute call's mutable state; a fresh run is created per
// call so Service itself stays stateless across concurrent executions
// (agent reasoning is sequential within a run, but distinct runs
// may proceed concurrently).
type run struct {
	svc *Service
	cfg Config

	transcript strings.Builder
	iterations int
	actions    int
	tokens     tokenUsage
}

// tokenUsage accumulates prompt/completion token counts across every
// LLM call a run makes.
type tokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

func (r *run) loop(ctx context.Context, prompt string) runtime.AgentResult {
	messages := []llm.Message{
		{Role: "system", Content: r.systemPrompt()},
		{Role: "user", Content: prompt},
	}
	r.logTurn("user", prompt)

	var lastAssistant string
	for r.iterations < r.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return r.exhausted(fmt.Sprintf("agent timed out after %d iterations", r.iterations), lastAssistant)
		}
		r.iterations++

		resp, err := r.svc.LLM.ChatRaw(ctx, r.cfg.LLMBinding, messages, llm.GenerateOptions{})
		if err != nil {
			return r.finish(false, "", fmt.Sprintf("llm call failed: %v", err))
		}
		r.accountTokens(messages, resp)
		r.logTurn("assistant", resp.Content)
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
		lastAssistant = resp.Content

		action := extractAction(resp.Content)
		if action == nil {
			// The extractor never guesses: a turn with no
			// parseable action is the agent answering in plain prose,
			// which ends the run successfully.
			return r.finish(true, resp.Content, "")
		}
		if action.IsFinal {
			return r.finish(true, action.Final, "")
		}

		observation, toolErr := r.invokeTool(ctx, action)
		r.actions++
		r.logTurn("tool", observation)
		messages = append(messages, llm.Message{Role: "user", Content: observation})
		if toolErr != nil {
			r.logTurn("error", toolErr.Error())
		}
	}
	return r.exhausted(fmt.Sprintf("agent exceeded max_iterations (%d)", r.cfg.MaxIterations), lastAssistant)
}

// exhausted reports an iteration/timeout failure, salvaging the last
// assistant message as a best-effort result when it reads as a plain
// answer (mentions no registered tool) rather than an abandoned tool
// call.
func (r *run) exhausted(errMsg, lastAssistant string) runtime.AgentResult {
	res := r.finish(false, "", errMsg)
	if lastAssistant == "" {
		return res
	}
	for _, t := range r.cfg.Tools {
		if strings.Contains(lastAssistant, t.Name) {
			return res
		}
	}
	res.Result = lastAssistant
	return res
}

func (r *run) systemPrompt() string {
	if len(r.cfg.Tools) == 0 {
		return r.cfg.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(r.cfg.SystemPrompt)
	b.WriteString("\n\nYou may call the following tools. To call one, reply with a fenced ")
	b.WriteString("```json code block containing {\"action\": \"<tool name>\", \"args\": {...}}. ")
	b.WriteString("To finish, reply with {\"action\": \"finish\", \"result\": \"<answer>\"} instead.\n\nTools:\n")
	for _, t := range r.cfg.Tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, p := range t.Params {
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", p.Name, p.Type, requiredSuffix(p.Required), p.Description)
		}
	}
	return b.String()
}

func requiredSuffix(required bool) string {
	if required {
		return ", required"
	}
	return ""
}

func (r *run) invokeTool(ctx context.Context, action *agentAction) (string, error) {
	var spec *ToolSpec
	for i := range r.cfg.Tools {
		if r.cfg.Tools[i].Name == action.Tool {
			spec = &r.cfg.Tools[i]
			break
		}
	}
	if spec == nil {
		return fmt.Sprintf("Error: Unknown tool %q. Use one of the listed tools, or finish.", action.Tool),
			fmt.Errorf("agent: unknown tool %q", action.Tool)
	}
	if r.svc.Invoker == nil {
		return fmt.Sprintf("Tool '%s' failed with error: no tool invoker configured", action.Tool),
			fmt.Errorf("agent: no tool invoker configured")
	}
	out, err := r.svc.Invoker(ctx, spec.Handler, action.Args)
	if err != nil {
		return fmt.Sprintf("Tool '%s' failed with error: %v", action.Tool, err), err
	}
	return fmt.Sprintf("Tool '%s' returned: %s", action.Tool, out), nil
}

func (r *run) logTurn(role, content string) {
	fmt.Fprintf(&r.transcript, "[%s] %s\n", role, content)
}

func (r *run) finish(success bool, result, errMsg string) runtime.AgentResult {
	return runtime.AgentResult{
		Success:          success,
		Result:           result,
		Error:            errMsg,
		Iterations:       r.iterations,
		ActionCount:      r.actions,
		Transcript:       r.transcript.String(),
		PromptTokens:     r.tokens.Prompt,
		CompletionTokens: r.tokens.Completion,
		TotalTokens:      r.tokens.Total,
	}
}

// accountTokens accumulates this turn's usage into the run total,
// preferring the provider's own reported usage and falling back to a
// local tiktoken-go estimate when the provider doesn't report it.
func (r *run) accountTokens(messages []llm.Message, resp llm.Response) {
	if resp.Usage.Total > 0 {
		r.tokens.Prompt += resp.Usage.Prompt
		r.tokens.Completion += resp.Usage.Completion
		r.tokens.Total += resp.Usage.Total
		return
	}
	var promptText strings.Builder
	for _, m := range messages {
		promptText.WriteString(m.Content)
	}
	p := estimateTokens(promptText.String())
	c := estimateTokens(resp.Content)
	r.tokens.Prompt += p
	r.tokens.Completion += c
	r.tokens.Total += p + c
}
