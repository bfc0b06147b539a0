// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package collab declares the collaborator contracts the runtime core
// consumes: database, email, file-upload, action-HTTP signal, the
// persistence storage adapter, embeddings, and vector-store interfaces.
// The core never implements a concrete driver for these — only the
// interface, so render-target/CLI layers can inject real adapters.
package collab

import "context"

// Row is a single result row from a database query; column name to value.
type Row = map[string]any

// QueryResult is the result of a database collaborator call.
type QueryResult struct {
	Success     bool
	Data        []Row
	RecordCount int
	Error       string
}

// Database is the collaborator contract for q:query against a SQL-shaped
// datasource.
type Database interface {
	ExecuteQuery(ctx context.Context, sql, datasourceID string, params map[string]any, maxRows int) (QueryResult, error)
}

// EmailResult is the outcome of an Email.Send call.
type EmailResult struct {
	Success bool
	Error   string
}

// EmailOptions carries the optional fields of q:mail.
type EmailOptions struct {
	From    string
	CC      string
	BCC     string
	ReplyTo string
	Type    string // "html" | "text"
}

// Email is the collaborator contract for q:mail.
type Email interface {
	SendEmail(ctx context.Context, to, subject, body string, opts EmailOptions) (EmailResult, error)
}

// NameConflictPolicy controls FileUpload.Handle's behavior on a
// destination collision.
type NameConflictPolicy string

const (
	ConflictMakeUnique NameConflictPolicy = "makeunique"
	ConflictOverwrite  NameConflictPolicy = "overwrite"
	ConflictError      NameConflictPolicy = "error"
)

// UploadResult is the outcome of a FileUpload.Handle call.
type UploadResult struct {
	Success bool
	Path    string
	Error   string
}

// UploadOptions carries the optional fields of a file-upload request.
type UploadOptions struct {
	AllowedExtensions []string
	MaxFileSize       int64
	NameConflict      NameConflictPolicy
}

// FileUpload is the collaborator contract backing q:file's upload-shaped
// operations.
type FileUpload interface {
	HandleUpload(ctx context.Context, file []byte, destination string, opts UploadOptions) (UploadResult, error)
}

// ActionSignal answers "does the current request match this action" for
// ActionNode dispatch, and exposes the current request's form values.
type ActionSignal interface {
	Matches(actionName, method string) bool
	FormValues() map[string]string
}

// StorageAdapter is the persistence collaborator.
type StorageAdapter interface {
	Save(ctx context.Context, scope, key string, v any, ttlSeconds int, encrypt bool) error
	Load(ctx context.Context, scope, key string) (any, bool, error)
	Remove(ctx context.Context, scope, key string) error
}

// Embeddings is the collaborator contract for the knowledge service's
// embedding calls.
type Embeddings interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// VectorStoreResult is the result of a vector-store similarity query.
type VectorStoreResult struct {
	Documents []string
	Metadatas []map[string]any
	Distances []float64
}

// VectorStore is the collaborator contract for knowledge-service storage.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, ids []string, documents []string, embeddings [][]float32, metadatas []map[string]any) error
	Query(ctx context.Context, collection string, queryEmbedding []float32, nResults int) (VectorStoreResult, error)
	// DropCollection removes a collection (and everything in it) so the
	// caller can recreate it from scratch; backs indexKnowledge's
	// rebuild=true option.
	DropCollection(ctx context.Context, collection string) error
}
