// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package qerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	e := New(KindParse, "unexpected token %q", "<")
	assert.Equal(t, "ParseError: unexpected token \"<\"", e.Error())

	e2 := e.WithPath("app.xml").WithPos(3, 5).WithNode("q:set")
	assert.Equal(t, `ParseError: unexpected token "<" (app.xml:3:5) [node=q:set]`, e2.Error())

	wrapped := Wrap(KindQuery, errors.New("connection refused"), "query failed")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWithHelpersDoNotMutateOriginal(t *testing.T) {
	base := New(KindRuntime, "boom")
	annotated := base.WithPath("x.xml")
	assert.Empty(t, base.Path, "WithPath must return a copy, not mutate the receiver")
	assert.Equal(t, "x.xml", annotated.Path)
}

func TestWithHelpersNilSafe(t *testing.T) {
	var e *Error
	assert.Nil(t, e.WithNode("n"))
	assert.Nil(t, e.WithPath("p"))
	assert.Nil(t, e.WithPos(1, 1))
	assert.Equal(t, "<nil>", e.Error())
}

func TestUnwrapAndErrorsAs(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := Wrap(KindStorage, cause, "save failed")
	outer := fmt.Errorf("context: %w", wrapped)

	var target *Error
	require.True(t, errors.As(outer, &target))
	assert.Equal(t, KindStorage, target.Kind)
	assert.True(t, errors.Is(outer, cause))
}

func TestHasKindAndKindOf(t *testing.T) {
	err := New(KindUnsafeExpression, "forbidden token")
	wrapped := fmt.Errorf("eval: %w", err)

	assert.True(t, HasKind(wrapped, KindUnsafeExpression))
	assert.False(t, HasKind(wrapped, KindRuntime))
	assert.Equal(t, KindUnsafeExpression, KindOf(wrapped))

	assert.False(t, HasKind(errors.New("plain"), KindRuntime))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestIsComparesByKind(t *testing.T) {
	a := New(KindJob, "a failed")
	b := New(KindJob, "b failed")
	c := New(KindAgent, "c failed")

	assert.True(t, errors.Is(a, b), "same kind should satisfy errors.Is")
	assert.False(t, errors.Is(a, c), "different kind must not satisfy errors.Is")
}
