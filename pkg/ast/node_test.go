// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNodeValidateOperationEnum(t *testing.T) {
	for _, op := range []string{"", "assign", "add", "subtract", "multiply", "divide"} {
		n := &SetNode{Name: "x", Op: op}
		assert.Empty(t, n.Validate(), "op %q should be valid", op)
	}

	n := &SetNode{Name: "x", Op: "increment"}
	errs := n.Validate()
	require.Len(t, errs, 1)
	ve, ok := errs[0].(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "operation", ve.Field)
}

func TestSetNodeValidateRequiresName(t *testing.T) {
	n := &SetNode{Op: "assign"}
	errs := n.Validate()
	require.Len(t, errs, 1)
	ve := errs[0].(*ValidationError)
	assert.Equal(t, "name", ve.Field)
}

func TestSetNodeToDictCarriesPersistFields(t *testing.T) {
	n := &SetNode{
		Name: "theme", Value: "\"dark\"", Op: "assign",
		Persist: "local", PersistKey: "ui.theme", PersistTTLSeconds: 60, PersistEncrypt: true,
	}
	d := n.ToDict()
	assert.Equal(t, "q:set", d["kind"])
	assert.Equal(t, "local", d["persist"])
	assert.Equal(t, "ui.theme", d["persistKey"])
	assert.Equal(t, 60, d["persistTtlSeconds"])
	assert.Equal(t, true, d["persistEncrypt"])
}

func TestIfNodeToDictFoldsElseIfsAndElse(t *testing.T) {
	n := &IfNode{
		Condition: "a > 1",
		Then:      []Node{&TextNode{Text: "big"}},
		ElseIfs: []ElseIfBranch{
			{Condition: "a == 1", Body: []Node{&TextNode{Text: "one"}}},
		},
		Else: []Node{&TextNode{Text: "lo"}},
	}
	d := n.ToDict()
	assert.Equal(t, "a > 1", d["condition"])
	elseifs, ok := d["elseifs"].([]any)
	require.True(t, ok)
	require.Len(t, elseifs, 1)
	branch := elseifs[0].(map[string]any)
	assert.Equal(t, "a == 1", branch["condition"])
}

func TestIfNodeValidateRequiresCondition(t *testing.T) {
	n := &IfNode{}
	errs := n.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "condition", errs[0].(*ValidationError).Field)
}

func TestLoopNodeValidateRequiresSource(t *testing.T) {
	n := &LoopNode{Var: "item"}
	errs := n.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "source", errs[0].(*ValidationError).Field)

	n2 := &LoopNode{Source: "items", Var: "item"}
	assert.Empty(t, n2.Validate())
}

func TestQueryNodeValidateRequiresDatasourceAndResult(t *testing.T) {
	n := &QueryNode{SQL: "select 1"}
	errs := n.Validate()
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.(*ValidationError).Field] = true
	}
	assert.True(t, fields["datasource"])
	assert.True(t, fields["result"])

	ok := &QueryNode{Datasource: "main", SQL: "select 1", Result: "r"}
	assert.Empty(t, ok.Validate())
}

func TestHTMLNodeToDictAndSelfClose(t *testing.T) {
	n := &HTMLNode{Tag: "img", Attrs: map[string]string{"src": "a.png"}, SelfClose: true}
	d := n.ToDict()
	assert.Equal(t, "img", d["tag"])
	assert.Equal(t, true, d["selfClose"])
}

func TestComponentNodeValidateRequiresName(t *testing.T) {
	n := &ComponentNode{}
	errs := n.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].(*ValidationError).Field)
}

func TestApplicationNodeValidateRequiresIDAndType(t *testing.T) {
	n := &ApplicationNode{}
	errs := n.Validate()
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.(*ValidationError).Field] = true
	}
	assert.True(t, fields["id"])
	assert.True(t, fields["type"])

	ok := &ApplicationNode{ID: "app", Type: AppHTML}
	assert.Empty(t, ok.Validate())
}

func TestAttrsHelpers(t *testing.T) {
	a := Attrs{"count": 3, "flag": true, "name": "x"}
	assert.Equal(t, 3, a.Int("count", 0))
	assert.Equal(t, 0, a.Int("missing", 0))
	assert.True(t, a.Bool("flag", false))
	assert.False(t, a.Bool("missing", false))
	s, ok := a.String("name")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	_, ok = a.String("flag")
	assert.False(t, ok, "wrong underlying type must report not-ok, not panic")
}

func TestChildDictsSkipsNilChildren(t *testing.T) {
	out := childDicts([]Node{&TextNode{Text: "a"}, nil, &TextNode{Text: "b"}})
	require.Len(t, out, 3)
	assert.Nil(t, out[1])
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Kind: "q:set", Field: "name", Message: "required attribute is missing or empty"}
	assert.Equal(t, "q:set: name: required attribute is missing or empty", err.Error())
}

func TestUIWidgetNodeKindAndValidate(t *testing.T) {
	n := &UIWidgetNode{Tag: "panel"}
	assert.Equal(t, "ui:panel", n.Kind())
	assert.Empty(t, n.Validate())

	empty := &UIWidgetNode{}
	errs := empty.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "tag", errs[0].(*ValidationError).Field)
}

func TestFunctionNodeRestBindingDefaults(t *testing.T) {
	fn := &FunctionNode{Name: "saveUser"}
	assert.False(t, fn.IsRestEnabled())

	fn.Rest = true
	assert.True(t, fn.IsRestEnabled())
	method, path := fn.RestBinding()
	assert.Equal(t, "POST", method)
	assert.Equal(t, "/saveUser", path)

	fn.RestMethod = "GET"
	fn.RestPath = "/users/save"
	method, path = fn.RestBinding()
	assert.Equal(t, "GET", method)
	assert.Equal(t, "/users/save", path)
}

func TestAgentToolNodeSchemaShape(t *testing.T) {
	tool := &AgentToolNode{
		Name: "lookup", Description: "looks up an item", Handler: "lookupHandler",
		Params: []*AgentToolParamNode{
			{Name: "id", Type: "string", Description: "item id", Required: true},
			{Name: "verbose", Type: "boolean"},
		},
	}
	schema := tool.Schema()
	assert.Equal(t, "lookup", schema["name"])
	params := schema["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	props := params["properties"].(map[string]any)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "verbose")
	assert.Equal(t, []string{"id"}, params["required"])
}
