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

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

// anthropicProvider serves Anthropic's Messages API via langchaingo,
// folding any "system"-role turns into langchaingo's dedicated system
// message type ahead of the user/assistant turns, since the Messages
// API takes system text as a top-level field rather than a message
// role.
type anthropicProvider struct {
	model llms.Model
	name  string
}

func newAnthropicProvider(apiKey, model string) (*anthropicProvider, error) {
	opts := []anthropic.Option{}
	if apiKey != "" {
		opts = append(opts, anthropic.WithToken(apiKey))
	}
	if model != "" {
		opts = append(opts, anthropic.WithModel(model))
	}
	m, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: construct anthropic client: %w", err)
	}
	return &anthropicProvider{model: m, name: model}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (Response, error) {
	var systemText string
	var parts []llms.MessageContent
	for _, m := range messages {
		switch m.Role {
		case "system":
			if systemText != "" {
				systemText += "\n"
			}
			systemText += m.Content
		case "assistant":
			parts = append(parts, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		default:
			parts = append(parts, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}
	if systemText != "" {
		parts = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemText)}, parts...)
	}

	callOpts := []llms.CallOption{}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := p.model.GenerateContent(ctx, parts, callOpts...)
	if err != nil {
		return Response{}, classifyErr(ProviderAnthropic, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: anthropic returned no choices")
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = p.name
	}
	return Response{Success: true, Content: resp.Choices[0].Content, Model: modelName, Provider: ProviderAnthropic}, nil
}
