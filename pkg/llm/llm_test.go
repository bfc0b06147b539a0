// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProviderHeuristics(t *testing.T) {
	cases := map[string]Provider{
		"http://localhost:11434":         ProviderLocalOSS,
		"https://api.openai.com/v1":      ProviderOpenAI,
		"http://localhost:1234/v1":       ProviderOpenAICompatible,
		"http://my-server.local/v1/chat": ProviderOpenAICompatible,
		"https://api.anthropic.com/v1":   ProviderOpenAICompatible,
		"https://api.anthropic.com":      ProviderAnthropic,
		"http://totally-unknown-host:80": ProviderLocalOSS,
	}
	for endpoint, want := range cases {
		assert.Equal(t, want, DetectProvider(endpoint), endpoint)
	}
}

type fakeProvider struct {
	calls    int
	response Response
	err      error
}

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (Response, error) {
	f.calls++
	return f.response, f.err
}

func withFakeProvider(t *testing.T, fake *fakeProvider) {
	t.Helper()
	orig := newProviderForBinding
	newProviderForBinding = func(b Binding) (providerClient, error) { return fake, nil }
	t.Cleanup(func() { newProviderForBinding = orig })
}

func TestClientGenerateUsesRegisteredBinding(t *testing.T) {
	fake := &fakeProvider{response: Response{Success: true, Content: "hi there", Model: "test-model"}}
	withFakeProvider(t, fake)

	c := NewClient()
	c.Register("assistant", ProviderOpenAI, "https://api.openai.com/v1", "gpt-4o-mini", "sk-test")

	res, err := c.Generate(context.Background(), "assistant", "hello", "be nice", 0.5)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi there", res.Content)
	assert.Equal(t, "test-model", res.Model)
}

func TestClientGenerateUnknownBindingIsError(t *testing.T) {
	c := NewClient()
	_, err := c.Generate(context.Background(), "missing", "hello", "", 0)
	assert.Error(t, err)
}

func TestClientGenerateCapturesProviderFailureIntoResult(t *testing.T) {
	fake := &fakeProvider{err: assertionError("boom")}
	withFakeProvider(t, fake)

	c := NewClient()
	c.Register("flaky", ProviderOpenAI, "", "gpt-4o-mini", "")
	res, err := c.Generate(context.Background(), "flaky", "hello", "", 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestClientCachesProviderPerConfigurationTuple(t *testing.T) {
	var built int
	orig := newProviderForBinding
	newProviderForBinding = func(b Binding) (providerClient, error) {
		built++
		return &fakeProvider{response: Response{Success: true, Content: "x"}}, nil
	}
	t.Cleanup(func() { newProviderForBinding = orig })

	c := NewClient()
	c.Register("a", ProviderOpenAI, "https://api.openai.com/v1", "gpt-4o-mini", "k")
	_, err := c.Generate(context.Background(), "a", "p1", "", 0)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "a", "p2", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, built)
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
