// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm implements the multi-provider LLM client: endpoint-
// based provider auto-detection, normalized chat/generate operations
// over OpenAI-compatible and Anthropic backends, and a per-configuration
// provider cache, satisfying pkg/runtime's LLMService structurally.
package llm

import (
	"context"
	"strings"
)

// Message is one turn of a conversation passed to Chat. Role follows
// the OpenAI convention ("system", "user", "assistant"); providers that
// need a different shape (Anthropic's top-level system field) convert
// at their own boundary.
type Message struct {
	Role    string
	Content string
}

// GenerateOptions carries the normalized generation knobs the
// `chat`/`generate` operations accept.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response is the normalized LLMResponse shape.
type Response struct {
	Success  bool
	Content  string
	Model    string
	Provider Provider
	Usage    Usage
}

// Provider identifies which backend a binding talks to.
type Provider string

const (
	ProviderLocalOSS         Provider = "local-oss"
	ProviderOpenAI           Provider = "openai"
	ProviderOpenAICompatible Provider = "openai-compatible"
	ProviderAnthropic        Provider = "anthropic"
)

// DetectProvider applies ordered endpoint heuristics: port 11434
// is local-OSS (Ollama's native port), api.openai.com is OpenAI, port
// 1234 or a `/v1` path is an OpenAI-compatible local server (LM Studio
// and friends), api.anthropic.com is Anthropic; anything else defaults
// to local-OSS.
func DetectProvider(endpoint string) Provider {
	switch {
	case strings.Contains(endpoint, ":11434"):
		return ProviderLocalOSS
	case strings.Contains(endpoint, "api.openai.com"):
		return ProviderOpenAI
	case strings.Contains(endpoint, ":1234"):
		return ProviderOpenAICompatible
	case strings.Contains(endpoint, "/v1"):
		return ProviderOpenAICompatible
	case strings.Contains(endpoint, "api.anthropic.com"):
		return ProviderAnthropic
	default:
		return ProviderLocalOSS
	}
}

// providerClient is the uniform shape every backend implements; Client
// never branches on provider kind again once one of these is built.
type providerClient interface {
	Chat(ctx context.Context, messages []Message, opts GenerateOptions) (Response, error)
}
