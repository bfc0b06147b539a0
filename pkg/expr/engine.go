// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expr

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantumlang/core/pkg/value"
)

// compiled is the opaque compiled form produced by Compile: enough
// metadata to re-evaluate against any context without re-lexing or
// re-parsing.
type compiled struct {
	src  string
	root node
}

// Stats is a snapshot of engine counters, toggled by Engine.SetStatsEnabled.
type Stats struct {
	Hits         int64
	Misses       int64
	Compilations int64
	Evaluations  int64
	TotalNanos   int64
}

// Engine compiles and evaluates restricted expressions with an LRU
// compile cache keyed by expression text only.
// All methods are safe for concurrent use.
type Engine struct {
	maxSize int

	mu    sync.Mutex
	ll    *list.List
	index map[string]*list.Element

	statsEnabled atomic.Bool
	hits         atomic.Int64
	misses       atomic.Int64
	compilations atomic.Int64
	evaluations  atomic.Int64
	totalNanos   atomic.Int64
}

type cacheEntry struct {
	key   string
	value *compiled
}

// NewEngine constructs an Engine with the given LRU capacity; size<=0
// defaults to 1000.
func NewEngine(size int) *Engine {
	if size <= 0 {
		size = 1000
	}
	return &Engine{
		maxSize: size,
		ll:      list.New(),
		index:   make(map[string]*list.Element),
	}
}

// SetStatsEnabled toggles statistics collection. When disabled, Evaluate
// takes the fast path.
func (e *Engine) SetStatsEnabled(on bool) { e.statsEnabled.Store(on) }

// Stats returns a snapshot of the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Hits:         e.hits.Load(),
		Misses:       e.misses.Load(),
		Compilations: e.compilations.Load(),
		Evaluations:  e.evaluations.Load(),
		TotalNanos:   e.totalNanos.Load(),
	}
}

// ResetStats zeroes every counter.
func (e *Engine) ResetStats() {
	e.hits.Store(0)
	e.misses.Store(0)
	e.compilations.Store(0)
	e.evaluations.Store(0)
	e.totalNanos.Store(0)
}

// Compile returns the cached compiled form for src, compiling and
// inserting it on a miss. The dangerous-pattern check runs before the
// recursive-descent parse.
func (e *Engine) Compile(src string) (*compiled, error) {
	e.mu.Lock()
	if el, ok := e.index[src]; ok {
		e.ll.MoveToFront(el)
		c := el.Value.(*cacheEntry).value
		e.mu.Unlock()
		if e.statsEnabled.Load() {
			e.hits.Add(1)
		}
		return c, nil
	}
	e.mu.Unlock()

	if e.statsEnabled.Load() {
		e.misses.Add(1)
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if err := checkForbidden(toks); err != nil {
		return nil, err
	}
	root, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	c := &compiled{src: src, root: root}

	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.index[src]; ok {
		e.ll.MoveToFront(el)
		return el.Value.(*cacheEntry).value, nil
	}
	el := e.ll.PushFront(&cacheEntry{key: src, value: c})
	e.index[src] = el
	for e.ll.Len() > e.maxSize {
		back := e.ll.Back()
		if back == nil {
			break
		}
		e.ll.Remove(back)
		delete(e.index, back.Value.(*cacheEntry).key)
	}
	if e.statsEnabled.Load() {
		e.compilations.Add(1)
	}
	return c, nil
}

// Evaluate compiles (or retrieves) src and evaluates it against context.
// Identifiers resolve only from context and calls resolve only against
// the fixed safe-builtins table, so a context variable never shadows a
// built-in function; context itself is only read, never modified.
func (e *Engine) Evaluate(src string, context map[string]value.Value) (value.Value, error) {
	start := time.Time{}
	statsOn := e.statsEnabled.Load()
	if statsOn {
		start = time.Now()
	}
	c, err := e.Compile(src)
	if err != nil {
		return nil, err
	}
	ctx := &evalCtx{vars: context}
	v, err := evalNode(c.root, ctx)
	if statsOn {
		e.evaluations.Add(1)
		e.totalNanos.Add(time.Since(start).Nanoseconds())
	}
	return v, err
}

// EvaluateCondition evaluates src and coerces the result to boolean via
// Truthy.
func (e *Engine) EvaluateCondition(src string, context map[string]value.Value) (bool, error) {
	v, err := e.Evaluate(src, context)
	if err != nil {
		return false, err
	}
	return value.Truthy(v), nil
}
