// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// openAIProvider serves OpenAI proper, OpenAI-compatible local servers
// (LM Studio, vLLM's OpenAI shim), and local-OSS runtimes that expose an
// OpenAI-compatible chat-completions route (Ollama does, at `/v1`).
type openAIProvider struct {
	kind   Provider
	client *openai.Client
	model  string
}

func newOpenAIProvider(kind Provider, endpoint, apiKey, model string) *openAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &openAIProvider{kind: kind, client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *openAIProvider) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		return Response{}, fmt.Errorf("llm: %s binding has no model configured", p.kind)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{Model: model, Messages: msgs}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, classifyErr(p.kind, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: %s returned no choices", p.kind)
	}
	return Response{
		Success: true, Content: resp.Choices[0].Message.Content, Model: resp.Model, Provider: p.kind,
		Usage: Usage{Prompt: resp.Usage.PromptTokens, Completion: resp.Usage.CompletionTokens, Total: resp.Usage.TotalTokens},
	}, nil
}
