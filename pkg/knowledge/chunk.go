// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import "strings"

// sentenceBreaks are the secondary split points tried once a paragraph
// break isn't available within the target window.
var sentenceBreaks = []rune{'.', '!', '?', ';', ',', '\n'}

// Chunk splits text into overlapping windows of roughly chunkSize
// characters. It prefers to break on a paragraph boundary ("\n\n")
// inside the window, falling back to a sentence-ending punctuation mark,
// and only cuts mid-word as a last resort. A candidate split
// point is only used if it falls past one third of chunkSize, so a
// chunk is never trivially short.
func Chunk(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	minSplit := chunkSize / 3

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		splitAt := findSplit(runes, start, end, minSplit)
		chunks = append(chunks, strings.TrimSpace(string(runes[start:splitAt])))
		next := splitAt - chunkOverlap
		if next <= start {
			next = splitAt
		}
		start = next
	}
	return nonEmpty(chunks)
}

// findSplit looks for the best break point in runes[start:end], trying a
// paragraph boundary first, then a sentence-ending mark, and otherwise
// returns end unchanged (mid-word cut).
func findSplit(runes []rune, start, end, minSplit int) int {
	window := runes[start:end]

	if idx := lastParagraphBreak(window); idx >= minSplit {
		return start + idx + 2
	}
	for i := len(window) - 1; i >= minSplit; i-- {
		if isSentenceBreak(window[i]) {
			return start + i + 1
		}
	}
	return end
}

func isSentenceBreak(r rune) bool {
	for _, b := range sentenceBreaks {
		if r == b {
			return true
		}
	}
	return false
}

// lastParagraphBreak returns the rune index of the last "\n\n" occurrence
// in window, or -1 if there is none.
func lastParagraphBreak(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func nonEmpty(chunks []string) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
