// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache implements the thread-safe, mtime-validated AST cache:
// a strict-LRU memo of parsed documents keyed by canonicalized
// absolute path, so re-rendering a component doesn't re-parse its XML on
// every request unless the file actually changed on disk.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/obsv"
)

// ParseFunc parses raw document bytes into an AST. The cache is
// AST-type-agnostic: it stores whatever ParseFunc returns (an
// *ast.ApplicationNode or *ast.ComponentNode in practice).
type ParseFunc func(path string, content []byte) (ast.Node, error)

// Entry is one resident cache record.
type Entry struct {
	AST          ast.Node
	ModTime      time.Time
	Size         int64
	ContentHash  string // "" unless hash validation is enabled
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Stats is a snapshot of cache-wide counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	Capacity  int
}

// Cache is a strict-LRU AST cache. All mutation happens under a single
// mutex; the lock is released while parseFn runs, so concurrent
// GetOrParse calls for the same new path may each parse it (the last
// writer wins, which is acceptable since re-parsing the same bytes is
// idempotent).
type Cache struct {
	mu       sync.Mutex
	capacity int
	hashMode bool

	ll    *list.List
	index map[string]*list.Element

	// dependents maps an importee path to the set of importer paths that
	// registered a dependency on it, so
	// Invalidate can recursively invalidate transitive includers.
	dependents map[string]map[string]bool

	hits      int64
	misses    int64
	evictions int64
}

type cacheElem struct {
	path  string
	entry *Entry
}

// New constructs a Cache with the given LRU capacity (<=0 defaults to
// 500) and optional content-hash validation for higher safety at the
// cost of reading the full file on every stat check.
func New(capacity int, hashValidation bool) *Cache {
	if capacity <= 0 {
		capacity = 500
	}
	return &Cache{
		capacity:   capacity,
		hashMode:   hashValidation,
		ll:         list.New(),
		index:      make(map[string]*list.Element),
		dependents: make(map[string]map[string]bool),
	}
}

// Canonicalize normalizes a path the way the cache keys entries: an
// absolute, cleaned path.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// GetOrParse returns the cached AST for path if its mtime and size (and,
// in hash mode, content hash) still match; otherwise it parses content
// via parseFn, stores the result, and returns it. Passing a non-nil
// content skips the file read (useful for in-memory fragments); pass nil
// to have GetOrParse read the file itself.
func (c *Cache) GetOrParse(path string, content []byte, parseFn ParseFunc) (ast.Node, error) {
	key, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(path)
	var mtime time.Time
	var size int64
	if statErr == nil {
		mtime = info.ModTime()
		size = info.Size()
	}

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*cacheElem).entry
		if statErr == nil && e.ModTime.Equal(mtime) && e.Size == size {
			if !c.hashMode || content == nil || hashOf(content) == e.ContentHash {
				c.ll.MoveToFront(el)
				e.LastAccessed = time.Now()
				e.AccessCount++
				c.hits++
				c.mu.Unlock()
				obsv.CacheHit()
				return e.AST, nil
			}
		}
	}
	c.misses++
	c.mu.Unlock()
	obsv.CacheMiss()

	if content == nil {
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if statErr != nil {
			info, err = os.Stat(path)
			if err != nil {
				return nil, err
			}
			mtime, size = info.ModTime(), info.Size()
		}
	}

	parsed, err := parseFn(path, content)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		AST: parsed, ModTime: mtime, Size: size,
		CreatedAt: time.Now(), LastAccessed: time.Now(), AccessCount: 1,
	}
	if c.hashMode {
		e.ContentHash = hashOf(content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*cacheElem).entry = e
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheElem{path: key, entry: e})
		c.index[key] = el
		c.evictIfNeeded()
	}
	obsv.SetCacheSize(c.ll.Len())
	return parsed, nil
}

// evictIfNeeded must be called with mu held.
func (c *Cache) evictIfNeeded() {
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.ll.Remove(back)
		delete(c.index, back.Value.(*cacheElem).path)
		c.evictions++
		obsv.CacheEviction()
	}
}

// Invalidate drops path (canonicalized) and recursively invalidates
// every registered dependent of path; passing "" invalidates everything.
func (c *Cache) Invalidate(path string) error {
	if path == "" {
		c.mu.Lock()
		c.ll = list.New()
		c.index = make(map[string]*list.Element)
		c.mu.Unlock()
		return nil
	}
	key, err := Canonicalize(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key, make(map[string]bool))
	return nil
}

func (c *Cache) invalidateLocked(key string, seen map[string]bool) {
	if seen[key] {
		return
	}
	seen[key] = true
	if el, ok := c.index[key]; ok {
		c.ll.Remove(el)
		delete(c.index, key)
	}
	for dependent := range c.dependents[key] {
		c.invalidateLocked(dependent, seen)
	}
}

// RegisterDependency records that importer includes/imports importee, so
// invalidating importee transitively invalidates importer.
func (c *Cache) RegisterDependency(importer, importee string) error {
	importerKey, err := Canonicalize(importer)
	if err != nil {
		return err
	}
	importeeKey, err := Canonicalize(importee)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.dependents[importeeKey]
	if !ok {
		set = make(map[string]bool)
		c.dependents[importeeKey] = set
	}
	set[importerKey] = true
	return nil
}

// OnFileChanged is the file-watcher callback hook: wire it to an
// fsnotify.Watcher's event channel to invalidate on externally-signalled
// change without waiting for the next GetOrParse's stat mismatch.
func (c *Cache) OnFileChanged(path string) {
	_ = c.Invalidate(path)
}

// Get returns the resident entry for path without triggering a parse, or
// ok=false if absent (does not count as a hit/miss).
func (c *Cache) Get(path string) (*Entry, bool) {
	key, err := Canonicalize(path)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheElem).entry, true
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits: c.hits, Misses: c.misses, Evictions: c.evictions,
		Size: c.ll.Len(), Capacity: c.capacity,
	}
}

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
