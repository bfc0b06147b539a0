// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge implements the knowledge service: chunking,
// embedding-call orchestration, vector-store upsert/query, and the
// retrieval+LLM composition behind ragQuery. It consumes pkg/collab's
// Embeddings and VectorStore contracts, so any adapter can back it;
// WeaviateStore (weaviatestore.go) is the Weaviate-backed VectorStore.
package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quantumlang/core/pkg/collab"
	"github.com/quantumlang/core/pkg/qerr"
	"github.com/quantumlang/core/pkg/runtime"
)

// embedBatchSize bounds how many chunks are sent to Embed per call.
const embedBatchSize = 16

// ragSystemPrompt is the fixed composition preamble used by ragQuery:
// answer only from the supplied context.
const ragSystemPrompt = "Answer only using the information in the context below. " +
	"If the context does not contain the answer, say you don't know."

// Source is one ingestible item for indexKnowledge. Type selects how Ref
// is interpreted: "text" (Ref is the literal content), "query-result"
// (Ref is the already-rendered text of a query result), "file" (Ref is
// a path or glob pattern), "url" (Ref is fetched over HTTP).
type Source struct {
	Type string
	Ref  string
}

// Config is a registered knowledge base's chunking/embedding settings,
// resolved from a parsed KnowledgeNode by the caller (this package never
// imports pkg/ast to avoid the dependency running back through
// pkg/runtime).
type Config struct {
	Collection   string // vector-store collection name
	EmbedModel   string
	ChunkSize    int
	ChunkOverlap int
	// LLMBinding names a registered pkg/llm.Client binding used to
	// compose ragQuery answers. Left empty, Search(answer=true) fails
	// with a RuntimeError rather than guessing a default model.
	LLMBinding string
}

// ChatClient is the subset of pkg/llm.Client that ragQuery needs; kept
// minimal so tests can supply a stub instead of a live provider.
type ChatClient interface {
	Generate(ctx context.Context, llmID, prompt, system string, temperature float64) (runtime.LLMResult, error)
}

// Service is the knowledge registry and query engine.
type Service struct {
	Embeddings collab.Embeddings
	Store      collab.VectorStore
	LLM        ChatClient

	httpClient *http.Client

	mu       sync.RWMutex
	registry map[string]Config
}

// New constructs an empty registry over the given collaborators. llmc
// may be nil if no knowledge base ever requests answer=true.
func New(embeddings collab.Embeddings, store collab.VectorStore, llmc ChatClient) *Service {
	return &Service{
		Embeddings: embeddings, Store: store, LLM: llmc,
		httpClient: &http.Client{},
		registry:   make(map[string]Config),
	}
}

// RegisterKnowledge binds name to cfg, replacing any prior registration.
func (s *Service) RegisterKnowledge(name string, cfg Config) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.Collection == "" {
		cfg.Collection = name
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = cfg
}

func (s *Service) config(name string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.registry[name]
	return c, ok
}

// IndexKnowledge ingests a named collection's sources: extract text
// from each source, chunk it, embed in batches, and upsert into the
// vector store under a deterministic id. rebuild drops and recreates
// the collection first so stale chunks from removed sources disappear.
func (s *Service) IndexKnowledge(ctx context.Context, name string, sources []Source, rebuild bool) error {
	cfg, ok := s.config(name)
	if !ok {
		return qerr.New(qerr.KindRuntime, "knowledge: no such knowledge base %q", name)
	}
	if s.Embeddings == nil || s.Store == nil {
		return qerr.New(qerr.KindRuntime, "knowledge: no embeddings/vector-store collaborator configured")
	}
	if rebuild {
		if err := s.Store.DropCollection(ctx, cfg.Collection); err != nil {
			return qerr.Wrap(qerr.KindStorage, err, "knowledge: drop collection %q for rebuild", cfg.Collection)
		}
	}

	for _, src := range sources {
		texts, refs, err := s.extract(src)
		if err != nil {
			return qerr.Wrap(qerr.KindRuntime, err, "knowledge: extract source %q", src.Ref)
		}
		for i, text := range texts {
			if err := s.indexDocument(ctx, cfg, refs[i], text); err != nil {
				return err
			}
		}
	}
	return nil
}

// extract resolves a Source into one or more (ref, text) documents: a
// "file" source with a glob pattern expands to one document per match.
func (s *Service) extract(src Source) (texts []string, refs []string, err error) {
	switch src.Type {
	case "text":
		return []string{src.Ref}, []string{"inline"}, nil
	case "query-result":
		// The caller has already rendered the query's rows to text; the
		// distinct type only affects the recorded source ref.
		return []string{src.Ref}, []string{"query-result"}, nil
	case "file":
		matches, err := filepath.Glob(src.Ref)
		if err != nil {
			return nil, nil, err
		}
		if len(matches) == 0 {
			matches = []string{src.Ref}
		}
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, err
			}
			texts = append(texts, string(data))
			refs = append(refs, path)
		}
		return texts, refs, nil
	case "url":
		req, err := http.NewRequest(http.MethodGet, src.Ref, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		return []string{string(data)}, []string{src.Ref}, nil
	default:
		return nil, nil, fmt.Errorf("knowledge: unknown source type %q", src.Type)
	}
}

// indexDocument chunks one document's text and upserts every chunk.
func (s *Service) indexDocument(ctx context.Context, cfg Config, ref, text string) error {
	chunks := Chunk(text, cfg.ChunkSize, cfg.ChunkOverlap)
	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		end := batchStart + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]
		vectors, err := s.Embeddings.Embed(ctx, cfg.EmbedModel, batch)
		if err != nil {
			return qerr.Wrap(qerr.KindRuntime, err, "knowledge: embed batch for %q", ref)
		}
		ids := make([]string, len(batch))
		metas := make([]map[string]any, len(batch))
		for i := range batch {
			idx := batchStart + i
			ids[i] = chunkID(ref, idx)
			metas[i] = map[string]any{"source": ref, "chunkIndex": idx}
		}
		if err := s.Store.Upsert(ctx, cfg.Collection, ids, batch, vectors, metas); err != nil {
			return qerr.Wrap(qerr.KindStorage, err, "knowledge: upsert batch for %q", ref)
		}
	}
	return nil
}

func chunkID(ref string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", ref, index)))
	return fmt.Sprintf("%x", sum[:16])
}

// Search satisfies runtime.KnowledgeService: a similarity search over
// name's collection, optionally composed into a RAG answer.
func (s *Service) Search(ctx context.Context, knowledgeName, query string, topK int, answer bool) (runtime.SearchResult, error) {
	cfg, ok := s.config(knowledgeName)
	if !ok {
		return runtime.SearchResult{}, qerr.New(qerr.KindRuntime, "knowledge: no such knowledge base %q", knowledgeName)
	}
	if s.Embeddings == nil || s.Store == nil {
		return runtime.SearchResult{}, qerr.New(qerr.KindRuntime, "knowledge: no embeddings/vector-store collaborator configured")
	}
	if topK <= 0 {
		topK = 5
	}
	vectors, err := s.Embeddings.Embed(ctx, cfg.EmbedModel, []string{query})
	if err != nil {
		return runtime.SearchResult{}, qerr.Wrap(qerr.KindRuntime, err, "knowledge: embed query")
	}
	res, err := s.Store.Query(ctx, cfg.Collection, vectors[0], topK)
	if err != nil {
		return runtime.SearchResult{}, qerr.Wrap(qerr.KindStorage, err, "knowledge: query collection %q", cfg.Collection)
	}

	hits := make([]runtime.SearchHit, len(res.Documents))
	for i, doc := range res.Documents {
		relevance := 0.0
		if i < len(res.Distances) {
			relevance = relevanceFromDistance(res.Distances[i])
		}
		source, chunkIndex := "", 0
		if i < len(res.Metadatas) && res.Metadatas[i] != nil {
			if v, ok := res.Metadatas[i]["source"].(string); ok {
				source = v
			}
			if v, ok := res.Metadatas[i]["chunkIndex"].(int); ok {
				chunkIndex = v
			}
		}
		hits[i] = runtime.SearchHit{Content: doc, Relevance: relevance, Source: source, ChunkIndex: chunkIndex}
	}

	out := runtime.SearchResult{Hits: hits}
	if !answer {
		return out, nil
	}
	return s.composeAnswer(ctx, cfg, query, hits, out)
}

// relevanceFromDistance maps a cosine distance to the normalized
// relevance score: max(0, 1 - distance/2).
func relevanceFromDistance(distance float64) float64 {
	r := 1 - distance/2
	if r < 0 {
		return 0
	}
	return r
}

// composeAnswer implements ragQuery's second half: build a context
// prompt from the retrieved hits and call the configured LLM binding.
func (s *Service) composeAnswer(ctx context.Context, cfg Config, query string, hits []runtime.SearchHit, out runtime.SearchResult) (runtime.SearchResult, error) {
	if cfg.LLMBinding == "" || s.LLM == nil {
		return runtime.SearchResult{}, qerr.New(qerr.KindRuntime, "knowledge: no llm binding configured for ragQuery")
	}
	var ctxBuilder strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&ctxBuilder, "[%d] (source: %s)\n%s\n\n", i+1, h.Source, h.Content)
	}
	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", ctxBuilder.String(), query)

	res, err := s.LLM.Generate(ctx, cfg.LLMBinding, prompt, ragSystemPrompt, 0)
	if err != nil {
		return runtime.SearchResult{}, qerr.Wrap(qerr.KindLLMProvider, err, "knowledge: ragQuery generate")
	}
	if !res.Success {
		return runtime.SearchResult{}, qerr.New(qerr.KindLLMProvider, "knowledge: ragQuery generate failed")
	}
	out.Answer = res.Content
	out.Confidence = topRelevance(hits)
	return out, nil
}

func topRelevance(hits []runtime.SearchHit) float64 {
	best := 0.0
	for _, h := range hits {
		if h.Relevance > best {
			best = h.Relevance
		}
	}
	return best
}
