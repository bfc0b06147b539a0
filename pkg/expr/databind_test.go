package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantumlang/core/pkg/value"
)

func TestApply_FullMatchPreservesType(t *testing.T) {
	e := NewEngine(0)
	v := e.Apply("{x}", map[string]value.Value{"x": 42.0})
	assert.Equal(t, 42.0, v)
}

func TestApply_PartialMatchStringifies(t *testing.T) {
	e := NewEngine(0)
	v := e.Apply("{a}-{b}", map[string]value.Value{"a": 1.0, "b": 2.0})
	assert.Equal(t, "1-2", v)
}

func TestApply_LiteralBracesPassThrough(t *testing.T) {
	e := NewEngine(0)
	v := e.Apply("no placeholders here", nil)
	assert.Equal(t, "no placeholders here", v)
}

func TestApply_FailureKeepsPlaceholder(t *testing.T) {
	e := NewEngine(0)
	v := e.Apply("value: {missing + 1}", nil)
	assert.Equal(t, "value: {missing + 1}", v)
}

func TestApply_NestedBraceExpression(t *testing.T) {
	e := NewEngine(0)
	v := e.Apply(`{ {"a": 1}["a"] }`, nil)
	assert.Equal(t, 1.0, v)
}
