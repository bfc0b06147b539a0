// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import "github.com/google/uuid"

// chunkNamespace is a fixed UUID namespace so uuidFromString is a pure
// function of the chunk id string (same source re-indexed twice yields
// the same Weaviate object id, which is what upsert-by-id relies on).
var chunkNamespace = uuid.MustParse("c9c6a4b0-6b1a-4e6a-8c7e-7f0e3a8d9b10")

func uuidFromString(id string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(id)).String()
}
