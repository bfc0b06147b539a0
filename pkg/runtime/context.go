// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runtime implements the execution context and the
// tree-walking statement interpreter that drives rendering of a
// parsed component against that context.
package runtime

import (
	"fmt"

	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/value"
)

// FrameKind identifies the scope a Frame represents.
type FrameKind string

const (
	FrameComponent FrameKind = "component"
	FrameFunction  FrameKind = "function"
	FrameLoop      FrameKind = "loop"
)

// Frame is one entry in the Context's scope stack.
type Frame struct {
	Kind FrameKind
	vars map[string]value.Value
}

func newFrame(kind FrameKind) *Frame {
	return &Frame{Kind: kind, vars: make(map[string]value.Value)}
}

// FunctionDescriptor is the registered, callable form of a parsed
// FunctionNode.
type FunctionDescriptor struct {
	Name   string
	Params []*ast.ParamNode
	Body   []ast.Node
}

// Context is a single render/execution's scope stack plus its function
// registry. A Context is never shared between concurrent executions:
// each request gets its own, so no lock is required to read or
// write variables inside one.
type Context struct {
	frames    []*Frame
	functions map[string]*FunctionDescriptor
}

// NewContext creates a Context with a single component-scope root frame.
func NewContext() *Context {
	return &Context{
		frames:    []*Frame{newFrame(FrameComponent)},
		functions: make(map[string]*FunctionDescriptor),
	}
}

// PushFrame pushes a new scope of the given kind onto the stack.
func (c *Context) PushFrame(kind FrameKind) *Frame {
	f := newFrame(kind)
	c.frames = append(c.frames, f)
	return f
}

// PopFrame pops the innermost frame. Popping the root component frame is
// a programmer error and panics rather than silently
// corrupting the scope stack.
func (c *Context) PopFrame() {
	if len(c.frames) <= 1 {
		panic("runtime: PopFrame called with no frame above the component root")
	}
	c.frames = c.frames[:len(c.frames)-1]
}

func (c *Context) current() *Frame { return c.frames[len(c.frames)-1] }

func (c *Context) componentFrame() *Frame { return c.frames[0] }

// Get performs nearest-frame-first lookup; returns value.Undefined (not
// an error) when the name is absent anywhere in the stack.
func (c *Context) Get(name string) value.Value {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i].vars[name]; ok {
			return v
		}
	}
	return value.Undefined
}

// Lookup is like Get but also reports whether the name was found, for
// callers that must distinguish "undefined" from an explicit nil.
func (c *Context) Lookup(name string) (value.Value, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i].vars[name]; ok {
			return v, true
		}
	}
	return value.Undefined, false
}

// Set writes name into the current frame, unless scope=="component" in
// which case it forces the write into the root component frame.
func (c *Context) Set(name string, v value.Value, scope string) {
	if scope == "component" {
		c.componentFrame().vars[name] = v
		return
	}
	c.current().vars[name] = v
}

// Snapshot returns a flattened view of every visible variable, nearest
// frame winning on collision — used to feed the expression engine.
func (c *Context) Snapshot() map[string]value.Value {
	out := make(map[string]value.Value)
	for _, f := range c.frames {
		for k, v := range f.vars {
			out[k] = v
		}
	}
	return out
}

// SetLoopVars exposes var/var_index/var_count in the current (loop)
// frame.
func (c *Context) SetLoopVars(varName string, item value.Value, index, count int) {
	f := c.current()
	name := varName
	if name == "" {
		name = "item"
	}
	f.vars[name] = item
	f.vars[name+"_index"] = float64(index)
	f.vars[name+"_count"] = float64(count)
}

// RegisterFunction adds/replaces a function descriptor, reachable for
// the remaining lifetime of the Context regardless of which frame was
// active when q:function was encountered ("remains in the component
// frame until context end").
func (c *Context) RegisterFunction(desc *FunctionDescriptor) {
	c.functions[desc.Name] = desc
}

// LookupFunction returns the descriptor registered under name, if any.
func (c *Context) LookupFunction(name string) (*FunctionDescriptor, bool) {
	d, ok := c.functions[name]
	return d, ok
}

// returnSignal is used internally to unwind a function body once a
// ReturnNode has been evaluated; it is never exposed outside pkg/runtime.
type returnSignal struct{ value value.Value }

func (r *returnSignal) Error() string { return fmt.Sprintf("return(%v)", r.value) }
