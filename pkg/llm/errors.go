// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"strings"

	"github.com/quantumlang/core/pkg/qerr"
	"github.com/sashabaranov/go-openai"
)

// classifyErr maps a raw transport/provider error onto the client's three
// named failure shapes: connection refused, HTTP non-2xx, and timeout.
func classifyErr(provider Provider, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return qerr.New(qerr.KindLLMProvider, "%s returned HTTP %d: %s", provider, apiErr.HTTPStatusCode, snippet(apiErr.Message))
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "dial tcp") || strings.Contains(msg, "no such host"):
		return qerr.New(qerr.KindLLMProvider, "cannot connect to %s; ensure the service is running and reachable: %v", provider, err)
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return qerr.New(qerr.KindLLMProvider, "%s request timed out: %v", provider, err)
	default:
		return qerr.New(qerr.KindLLMProvider, "%s provider error: %v", provider, err)
	}
}

func snippet(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
