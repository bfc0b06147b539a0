// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"strings"

	"github.com/quantumlang/core/pkg/value"
)

// Apply implements the databinding resolver: if text is exactly
// one `{expr}` (a full match), the evaluated value is returned unchanged
// so its type survives; otherwise every `{expr}` occurrence is
// substituted with its stringified value and the result is always a
// string. A failed evaluation keeps the original placeholder rather than
// raising — callers needing a propagating error (q:if conditions, q:loop
// ranges) must call Evaluate/EvaluateCondition directly instead.
func (e *Engine) Apply(text string, context map[string]value.Value) value.Value {
	spans := findPlaceholders(text)
	if len(spans) == 0 {
		return text
	}
	if len(spans) == 1 && spans[0].start == 0 && spans[0].end == len(text) {
		v, err := e.Evaluate(spans[0].expr, context)
		if err != nil {
			return text
		}
		return v
	}

	var sb strings.Builder
	last := 0
	for _, sp := range spans {
		sb.WriteString(text[last:sp.start])
		v, err := e.Evaluate(sp.expr, context)
		if err != nil {
			sb.WriteString(text[sp.start:sp.end])
		} else {
			sb.WriteString(value.Stringify(v))
		}
		last = sp.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

type placeholder struct {
	start, end int // byte offsets of the full "{expr}" span, end exclusive
	expr       string
}

// findPlaceholders scans text for balanced `{...}` spans, respecting
// nested braces (e.g. `{ {"a": 1}["a"] }`) so dict literals inside an
// expression don't prematurely close the placeholder.
func findPlaceholders(text string) []placeholder {
	var out []placeholder
	i := 0
	for i < len(text) {
		if text[i] != '{' {
			i++
			continue
		}
		depth := 1
		j := i + 1
		inStr := byte(0)
		for j < len(text) && depth > 0 {
			c := text[j]
			switch {
			case inStr != 0:
				if c == '\\' {
					j++
				} else if c == inStr {
					inStr = 0
				}
			case c == '\'' || c == '"':
				inStr = c
			case c == '{':
				depth++
			case c == '}':
				depth--
			}
			j++
		}
		if depth == 0 {
			out = append(out, placeholder{start: i, end: j, expr: text[i+1 : j-1]})
			i = j
		} else {
			// unbalanced trailing brace: stop scanning, leave as literal
			i++
		}
	}
	return out
}
