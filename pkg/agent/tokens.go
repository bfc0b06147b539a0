// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tiktokenEncoding is the model-agnostic encoding used for local token
// estimation; cl100k_base is the closest single approximation across
// the supported OpenAI/Anthropic/local-OSS providers, and matching
// a specific provider's tokenizer exactly isn't the point — this is a
// fallback for providers that don't report usage themselves.
const tiktokenEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tiktokenEncoding)
		if err == nil {
			enc = e
		}
	})
	return enc
}

// estimateTokens counts text's tokens using tiktoken-go, falling back to
// a characters/4 approximation if the encoding couldn't be loaded (e.g.
// no network access to fetch its vocabulary file).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
