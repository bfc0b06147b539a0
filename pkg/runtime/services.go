// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"

	"github.com/quantumlang/core/pkg/value"
)

// BrokerService is the minimal surface the interpreter needs from the
// message broker; concrete adapters live in pkg/broker.
type BrokerService interface {
	Publish(ctx context.Context, topic string, body any, headers map[string]string) (msgID string, err error)
	Send(ctx context.Context, queue string, body any, headers map[string]string) (msgID string, err error)
	Request(ctx context.Context, queue string, body any, headers map[string]string, timeoutMS int) (any, error)
	Subscribe(topicPattern string, handler func(msg BrokerMessage)) (subID string, err error)
	DeclareQueue(name string, prefetch int, dlq string, handler func(msg BrokerMessage)) error
	Ack(msg BrokerMessage) error
	Nack(msg BrokerMessage, requeue bool) error
	QueueInfo(name string) (map[string]any, error)
}

// BrokerMessage is the delivery handle passed to subscription handlers
// and to Ack/Nack. Handler bodies see it wrapped as a value.Handle under
// "message" so `{message.body}` / `q:ack message="{message}"` both work
// through the ordinary Attr() accessor path.
type BrokerMessage struct {
	ID            string
	Topic         string
	Queue         string
	Body          any
	Headers       map[string]string
	CorrelationID string
}

// Field implements the value.Handle "fielder" accessor contract so
// expressions can read `message.body`, `message.headers`, etc.
func (m BrokerMessage) Field(name string) (value.Value, bool) {
	switch name {
	case "id":
		return m.ID, true
	case "topic":
		return m.Topic, true
	case "queue":
		return m.Queue, true
	case "body":
		return value.FromAny(m.Body), true
	case "headers":
		return value.FromAny(map[string]any(headerToAny(m.Headers))), true
	case "correlationId":
		return m.CorrelationID, true
	default:
		return value.Undefined, false
	}
}

func headerToAny(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// JobService is the minimal surface the interpreter needs from job
// execution; concrete implementation lives in pkg/jobs.
type JobService interface {
	RunThread(name, handler string, priority int, args map[string]any) error
	Schedule(name, interval, cron, handler string) error
	Dispatch(name, handler string, args map[string]any, maxAttempts int) (jobID string, err error)
}

// AgentService is the minimal surface the interpreter needs from the
// agent engine; concrete implementation lives in pkg/agent.
type AgentService interface {
	Execute(ctx context.Context, agentName, prompt string) (AgentResult, error)
}

// AgentResult mirrors the interpreter-visible subset of the agent engine's
// AgentResult record. PromptTokens/CompletionTokens/TotalTokens
// accumulate across every LLM call the run made (provider-reported
// usage when available, tiktoken-go estimation otherwise).
type AgentResult struct {
	Success          bool
	Result           string
	Error            string
	ExecutionTimeMS  int64
	Iterations       int
	ActionCount      int
	Transcript       string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMService is the minimal surface the interpreter needs from the
// multi-provider LLM client; concrete implementation lives in
// pkg/llm.
type LLMService interface {
	Generate(ctx context.Context, llmID, prompt, system string, temperature float64) (LLMResult, error)
}

// LLMResult mirrors the interpreter-visible subset of the LLM client's
// LLMResponse record.
type LLMResult struct {
	Success bool
	Content string
	Model   string
	Error   string
}

// WebSocketService is the minimal surface the interpreter needs;
// concrete implementation lives in pkg/wsocket.
type WebSocketService interface {
	Open(name, url string) error
	Send(name string, body any) (bool, error)
	Close(name string) error
}

// KnowledgeService is the minimal surface the interpreter needs;
// concrete implementation lives in pkg/knowledge.
type KnowledgeService interface {
	Search(ctx context.Context, knowledgeName, query string, topK int, answer bool) (SearchResult, error)
}

// SearchResult unifies the knowledge service's search/ragQuery outputs, unified so the
// interpreter can store one result shape for either mode.
type SearchResult struct {
	Hits       []SearchHit
	Answer     string
	Confidence float64
}

// SearchHit is one retrieved chunk from a knowledge search.
type SearchHit struct {
	Content    string
	Relevance  float64
	Source     string
	ChunkIndex int
}

// PersistService is the minimal surface the interpreter needs;
// concrete implementation lives in pkg/persist.
type PersistService interface {
	Save(ctx context.Context, scope, key string, v any, ttlSeconds int, encrypt bool) error
}
