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
	"strings"
	"sync"

	"github.com/quantumlang/core/pkg/runtime"
)

// Binding is a registered q:llm declaration's resolved configuration.
type Binding struct {
	Name     string
	Provider Provider // empty means auto-detect from Endpoint
	Endpoint string
	Model    string
	APIKey   string
}

func (b Binding) resolvedProvider() Provider {
	if b.Provider != "" {
		return b.Provider
	}
	return DetectProvider(b.Endpoint)
}

func (b Binding) cacheKey() string {
	return strings.Join([]string{string(b.resolvedProvider()), b.Endpoint, b.Model, b.APIKey}, "|")
}

// newProviderForBinding is a package-level factory so tests can swap in
// a fake providerClient without a live network call.
var newProviderForBinding = func(b Binding) (providerClient, error) {
	switch b.resolvedProvider() {
	case ProviderAnthropic:
		return newAnthropicProvider(b.APIKey, b.Model)
	default:
		return newOpenAIProvider(b.resolvedProvider(), b.Endpoint, b.APIKey, b.Model), nil
	}
}

// Client is the multi-provider LLM client: bindings are
// registered by name (mirroring a q:llm declaration), and providers are
// cached per configuration tuple so repeated Generate calls against the
// same binding reuse one constructed client.
type Client struct {
	mu       sync.Mutex
	bindings map[string]Binding
	cache    map[string]providerClient
}

// NewClient constructs an empty client.
func NewClient() *Client {
	return &Client{bindings: make(map[string]Binding), cache: make(map[string]providerClient)}
}

// Register binds name to a provider configuration, replacing any prior
// registration under the same name (the last q:llm declaration with a
// given id wins).
func (c *Client) Register(name string, provider Provider, endpoint, model, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = Binding{Name: name, Provider: provider, Endpoint: endpoint, Model: model, APIKey: apiKey}
}

func (c *Client) resolve(llmID string) (providerClient, Binding, error) {
	c.mu.Lock()
	b, ok := c.bindings[llmID]
	if !ok {
		c.mu.Unlock()
		return nil, Binding{}, fmt.Errorf("llm: no binding registered for %q", llmID)
	}
	key := b.cacheKey()
	if p, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return p, b, nil
	}
	c.mu.Unlock()

	p, err := newProviderForBinding(b)
	if err != nil {
		return nil, b, err
	}

	c.mu.Lock()
	c.cache[key] = p
	c.mu.Unlock()
	return p, b, nil
}

// Generate satisfies runtime.LLMService: a single prompt (with optional
// system preamble) against the named binding. Provider/transport
// failures are captured into the result's Error field rather than
// returned as a Go error, matching execLLMGenerate's error policy;
// only an unresolvable binding is a Go-level error.
func (c *Client) Generate(ctx context.Context, llmID, prompt, system string, temperature float64) (runtime.LLMResult, error) {
	p, b, err := c.resolve(llmID)
	if err != nil {
		return runtime.LLMResult{}, err
	}
	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	resp, err := p.Chat(ctx, messages, GenerateOptions{Model: b.Model, Temperature: temperature})
	if err != nil {
		return runtime.LLMResult{Success: false, Error: err.Error()}, nil
	}
	return runtime.LLMResult{Success: resp.Success, Content: resp.Content, Model: resp.Model}, nil
}

// ChatRaw exposes the full conversation-in, Response-out shape for
// callers (pkg/agent) that need provider/usage detail Generate doesn't
// carry across the reduced LLMService interface.
func (c *Client) ChatRaw(ctx context.Context, llmID string, messages []Message, opts GenerateOptions) (Response, error) {
	p, b, err := c.resolve(llmID)
	if err != nil {
		return Response{}, err
	}
	if opts.Model == "" {
		opts.Model = b.Model
	}
	return p.Chat(ctx, messages, opts)
}
