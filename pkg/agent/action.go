// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// agentAction is one parsed LLM turn: either a tool call (Tool/Args) or
// a final answer (Final, with IsFinal set so an empty final result is
// still distinguishable from a tool call).
type agentAction struct {
	Tool    string
	Args    map[string]any
	Final   string
	IsFinal bool
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*\\n(.*?)```")
var fencedBareBlock = regexp.MustCompile("(?s)```\\s*\\n(.*?)```")

// extractAction looks for a tool-call or final-answer JSON object in
// content, trying progressively looser patterns in a fixed order:
//  1. a ```json fenced block
//  2. a bare ``` fenced block
//  3. the first balanced {...} substring containing an "action" or
//     "final" key
//  4. the whole trimmed message parsed as JSON
//
// It returns nil rather than guess when none of these patterns produce
// a well-formed object — an agent turn with no parseable action is
// treated as the run's final answer, not as a malformed tool call.
func extractAction(content string) *agentAction {
	if m := fencedJSONBlock.FindStringSubmatch(content); m != nil {
		if a := parseAction(m[1]); a != nil {
			return a
		}
	}
	if m := fencedBareBlock.FindStringSubmatch(content); m != nil {
		if a := parseAction(m[1]); a != nil {
			return a
		}
	}
	if sub := firstBalancedObject(content); sub != "" {
		if a := parseAction(sub); a != nil {
			return a
		}
	}
	return parseAction(strings.TrimSpace(content))
}

// parseAction decodes text as a JSON object and recognizes it as an
// action only if it carries an "action" or "final" key; any other
// well-formed JSON (or invalid JSON) is not an action. The canonical
// terminator is {"action": "finish", "result": ...}; a bare
// {"final": ...} is accepted as the shorthand some models emit.
func parseAction(text string) *agentAction {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil
	}
	if final, ok := obj["final"].(string); ok {
		return &agentAction{Final: final, IsFinal: true}
	}
	tool, ok := obj["action"].(string)
	if !ok || tool == "" {
		return nil
	}
	if tool == "finish" {
		result, _ := obj["result"].(string)
		return &agentAction{Final: result, IsFinal: true}
	}
	args, _ := obj["args"].(map[string]any)
	return &agentAction{Tool: tool, Args: args}
}

// firstBalancedObject returns the first brace-balanced "{...}" substring
// of s that mentions "action" or "final", or "" if there is none.
func firstBalancedObject(s string) string {
	depth := 0
	start := -1
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if strings.Contains(candidate, "\"action\"") || strings.Contains(candidate, "\"final\"") {
						return candidate
					}
					start = -1
				}
			}
		}
	}
	return ""
}
