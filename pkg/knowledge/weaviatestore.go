// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/quantumlang/core/pkg/collab"
)

// WeaviateStore adapts a Weaviate client to collab.VectorStore. One
// Weaviate "class" backs one q:knowledge collection; vectors are supplied
// by the caller (Vectorizer: "none") since embeddings come from
// collab.Embeddings, not Weaviate's own vectorizer modules.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps an already-configured Weaviate client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

func (s *WeaviateStore) ensureClass(ctx context.Context, collection string) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(collection).Do(ctx); err == nil {
		return nil
	}
	indexFilterable := true
	class := &models.Class{
		Class:      collection,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "chunkID", DataType: []string{"text"}, IndexFilterable: &indexFilterable, Tokenization: "field"},
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating %s class: %w", collection, err)
	}
	return nil
}

// Upsert stores each document under a deterministic id by first deleting
// any existing object with that id (Weaviate's batcher has no native
// upsert-by-id, so delete-then-create is the documented workaround).
func (s *WeaviateStore) Upsert(ctx context.Context, collection string, ids []string, documents []string, embeddings [][]float32, metadatas []map[string]any) error {
	if err := s.ensureClass(ctx, collection); err != nil {
		return err
	}
	objects := make([]*models.Object, 0, len(ids))
	for i, id := range ids {
		props := map[string]any{
			"chunkID": id,
			"content": documents[i],
		}
		for k, v := range metadatas[i] {
			props[k] = v
		}
		objID := strfmt.UUID(deterministicUUID(id))
		_ = s.client.Data().Deleter().WithClassName(collection).WithID(objID).Do(ctx)
		objects = append(objects, &models.Object{
			Class:      collection,
			ID:         objID,
			Properties: props,
			Vector:     embeddings[i],
		})
	}
	if _, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx); err != nil {
		return fmt.Errorf("batch upsert into %s: %w", collection, err)
	}
	return nil
}

// Query runs a nearVector search and returns the closest nResults objects.
func (s *WeaviateStore) Query(ctx context.Context, collection string, queryEmbedding []float32, nResults int) (collab.VectorStoreResult, error) {
	vec := make([]float32, len(queryEmbedding))
	copy(vec, queryEmbedding)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	result, err := s.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "chunkIndex"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearVector(nearVector).
		WithLimit(nResults).
		Do(ctx)
	if err != nil {
		return collab.VectorStoreResult{}, fmt.Errorf("querying %s: %w", collection, err)
	}
	if len(result.Errors) > 0 {
		return collab.VectorStoreResult{}, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}
	return parseGraphQLGet(result, collection)
}

// DropCollection removes the class entirely; indexKnowledge's rebuild=true
// calls this before re-upserting.
func (s *WeaviateStore) DropCollection(ctx context.Context, collection string) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(collection).Do(ctx); err != nil {
		return fmt.Errorf("dropping %s: %w", collection, err)
	}
	return nil
}

func parseGraphQLGet(result *models.GraphQLResponse, collection string) (collab.VectorStoreResult, error) {
	get, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return collab.VectorStoreResult{}, nil
	}
	rows, ok := get[collection].([]any)
	if !ok {
		return collab.VectorStoreResult{}, nil
	}
	out := collab.VectorStoreResult{}
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		content, _ := row["content"].(string)
		out.Documents = append(out.Documents, content)
		meta := map[string]any{}
		if v, ok := row["source"]; ok {
			meta["source"] = v
		}
		if v, ok := row["chunkIndex"]; ok {
			meta["chunkIndex"] = v
		}
		out.Metadatas = append(out.Metadatas, meta)
		dist := 1.0
		if add, ok := row["_additional"].(map[string]any); ok {
			if d, ok := add["distance"].(float64); ok {
				dist = d
			}
		}
		out.Distances = append(out.Distances, dist)
	}
	return out, nil
}

// deterministicUUID derives a stable Weaviate object UUID from an
// arbitrary chunk id, since Weaviate requires RFC4122 UUIDs as object IDs
// but the knowledge service's chunk ids are sha256-derived strings.
func deterministicUUID(id string) string {
	return uuidFromString(id)
}
