// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/quantumlang/core/pkg/ast"
)

// parseStatementList consumes child nodes until the EndElement matching
// the already-consumed parent start tag, dispatching each child through
// parseAnyNode. It special-cases the q:if / q:elseif / q:else sibling
// chain: elseif/else aren't separate statements, they fold into
// the most recently appended IfNode as long as nothing else intervenes.
func (p *Parser) parseStatementList(dec *xml.Decoder, path string) ([]ast.Node, error) {
	var out []ast.Node
	var ifChain *ast.IfNode

	for {
		tok, err := dec.Token()
		if err != nil {
			return out, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return out, nil
		case xml.CharData:
			text := string(t)
			if strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, &ast.TextNode{Text: text})
			ifChain = nil
		case xml.StartElement:
			start := t.Copy()
			ns := namespaceOf(start.Name)
			local := start.Name.Local

			if ns == "q" && local == "elseif" && ifChain != nil {
				body, berr := p.parseStatementList(dec, path)
				if berr != nil {
					return out, berr
				}
				ifChain.ElseIfs = append(ifChain.ElseIfs, ast.ElseIfBranch{
					Condition: stripExpr(attrString(start, "condition")),
					Body:      body,
				})
				continue
			}
			if ns == "q" && local == "else" && ifChain != nil {
				body, berr := p.parseStatementList(dec, path)
				if berr != nil {
					return out, berr
				}
				ifChain.Else = body
				continue
			}

			node, perr := p.parseAnyNode(dec, start, path)
			if perr != nil {
				return out, perr
			}
			if node != nil {
				out = append(out, node)
			}
			if ifNode, ok := node.(*ast.IfNode); ok && ns == "q" && local == "if" {
				ifChain = ifNode
			} else {
				ifChain = nil
			}
		}
	}
}

// parseAnyNode is the single namespace-aware dispatch point used both
// for statement lists and for collecting generic widget children.
func (p *Parser) parseAnyNode(dec *xml.Decoder, start xml.StartElement, path string) (ast.Node, error) {
	ns := namespaceOf(start.Name)
	switch ns {
	case "q":
		return p.parseQTag(dec, start, path)
	case "ui":
		return p.parseWidget(dec, start, path, "ui")
	case "qt":
		return p.parseWidget(dec, start, path, "qt")
	case "qg":
		return p.parseWidget(dec, start, path, "qg")
	default:
		return p.parseHTMLNode(dec, start, path)
	}
}

// parseQTag dispatches a root-namespace tag to its concrete AST node.
func (p *Parser) parseQTag(dec *xml.Decoder, start xml.StartElement, path string) (ast.Node, error) {
	pos := posOf(dec)
	local := start.Name.Local
	switch local {
	case "set":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		value := attrString(start, "value")
		if value == "" {
			value = body
		}
		n := &ast.SetNode{
			Name:  attrString(start, "name"),
			Value: stripExpr(value),
			Scope: attrString(start, "scope"),
			Op:    attrStringDefault(start, "operation", "assign"),

			Persist:           attrString(start, "persist"),
			PersistKey:        attrString(start, "persist_key"),
			PersistTTLSeconds: attrInt(start, "persist_ttl_seconds", 0),
			PersistEncrypt:    attrBool(start, "persist_encrypt", false),
		}
		n.Pos = pos
		return n, nil

	case "if":
		cond := attrString(start, "condition")
		body, err := p.parseStatementList(dec, path)
		if err != nil {
			return nil, err
		}
		n := &ast.IfNode{Condition: stripExpr(cond), Then: body}
		n.Pos = pos
		return n, nil

	case "loop":
		return p.parseLoop(dec, start, path, pos)

	case "function":
		return p.parseFunction(dec, start, path, pos)

	case "param":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.ParamNode{Name: attrString(start, "name"), Default: stripExpr(attrString(start, "default"))}
		n.Pos = pos
		return n, nil

	case "call":
		return p.parseCall(dec, start, path, pos)

	case "return":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		v := attrString(start, "value")
		if v == "" {
			v = body
		}
		n := &ast.ReturnNode{Value: stripExpr(v)}
		n.Pos = pos
		return n, nil

	case "query":
		return p.parseQuery(dec, start, path, pos)

	case "action":
		body, err := p.parseStatementList(dec, path)
		if err != nil {
			return nil, err
		}
		n := &ast.ActionNode{
			Name:     attrString(start, "name"),
			Method:   attrStringDefault(start, "method", "POST"),
			Redirect: attrString(start, "redirect"),
			Body:     body,
		}
		n.Pos = pos
		return n, nil

	case "mail":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		n := &ast.MailNode{
			To: attrString(start, "to"), Subject: attrString(start, "subject"),
			Body: stripExpr(body), Result: attrString(start, "result"),
		}
		n.Pos = pos
		return n, nil

	case "file":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		n := &ast.FileNode{
			Action: attrString(start, "action"), Path: attrString(start, "path"),
			Data: stripExpr(body), Result: attrString(start, "result"),
		}
		n.Pos = pos
		return n, nil

	case "dump":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.DumpNode{
			Value:  stripExpr(attrString(start, "value")),
			Format: attrStringDefault(start, "format", "text"),
			Depth:  attrInt(start, "depth", 10),
			Label:  attrString(start, "label"),
		}
		n.Pos = pos
		return n, nil

	case "log":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		msg := attrString(start, "message")
		if msg == "" {
			msg = body
		}
		n := &ast.LogNode{
			Level: attrStringDefault(start, "level", "info"), Message: stripExpr(msg),
			Fields: attrExprMap(start, []string{"level", "message"}),
		}
		n.Pos = pos
		return n, nil

	case "message":
		return p.parseMessage(dec, start, path, pos)

	case "subscribe":
		body, err := p.parseStatementList(dec, path)
		if err != nil {
			return nil, err
		}
		n := &ast.SubscribeNode{
			Topic: attrString(start, "topic"), Handler: attrString(start, "handler"),
			Body: body, Ack: attrStringDefault(start, "ack", "auto"),
		}
		n.Pos = pos
		return n, nil

	case "queue":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.QueueNode{
			Name: attrString(start, "name"), Prefetch: attrInt(start, "prefetch", 1),
			DLQ: attrString(start, "dlq"), Handler: attrString(start, "handler"),
		}
		n.Pos = pos
		return n, nil

	case "ack":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.MessageAckNode{Message: stripExpr(attrString(start, "message"))}
		n.Pos = pos
		return n, nil

	case "nack":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.MessageNackNode{Message: stripExpr(attrString(start, "message")), Requeue: attrBool(start, "requeue", true)}
		n.Pos = pos
		return n, nil

	case "schedule":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.ScheduleNode{Interval: attrString(start, "interval"), Cron: attrString(start, "cron"), Handler: attrString(start, "handler")}
		n.Pos = pos
		return n, nil

	case "thread":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.ThreadNode{
			Handler: attrString(start, "handler"), Priority: priorityOf(attrStringDefault(start, "priority", "normal")),
			Args: attrExprMap(start, []string{"handler", "priority"}),
		}
		n.Pos = pos
		return n, nil

	case "job":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.JobNode{
			Name: attrString(start, "name"), Handler: attrString(start, "handler"),
			Args:     attrExprMap(start, []string{"name", "handler", "maxRetry", "result"}),
			MaxRetry: attrInt(start, "maxRetry", 1), Result: attrString(start, "result"),
		}
		n.Pos = pos
		return n, nil

	case "websocket":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.WebSocketNode{Name: attrString(start, "name"), URL: attrString(start, "url")}
		n.Pos = pos
		return n, nil

	case "websocket-handler":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.WebSocketHandlerNode{
			Connection: attrString(start, "connection"),
			Event:      attrString(start, "event"), Handler: attrString(start, "handler"),
		}
		n.Pos = pos
		return n, nil

	case "websocket-send":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		b := attrString(start, "body")
		if b == "" {
			b = body
		}
		n := &ast.WebSocketSendNode{Connection: attrString(start, "connection"), Body: stripExpr(b), Result: attrString(start, "result")}
		n.Pos = pos
		return n, nil

	case "websocket-close":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.WebSocketCloseNode{Connection: attrString(start, "connection")}
		n.Pos = pos
		return n, nil

	case "agent":
		return p.parseAgent(dec, start, path, pos)

	case "agent-execute":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		prompt := attrString(start, "prompt")
		if prompt == "" {
			prompt = body
		}
		n := &ast.AgentExecuteNode{
			Agent: attrString(start, "agent"), Prompt: stripExpr(prompt),
			Result: attrString(start, "result"), Transcript: attrString(start, "transcript"),
		}
		n.Pos = pos
		return n, nil

	case "llm":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.LLMNode{
			Name: attrString(start, "name"), Provider: attrString(start, "provider"),
			Endpoint: attrString(start, "endpoint"), Model: attrString(start, "model"), APIKey: stripExpr(attrString(start, "apiKey")),
		}
		n.Pos = pos
		return n, nil

	case "llm-generate":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		prompt := attrString(start, "prompt")
		if prompt == "" {
			prompt = body
		}
		n := &ast.LLMGenerateNode{
			LLM: attrString(start, "llm"), Prompt: stripExpr(prompt), System: stripExpr(attrString(start, "system")),
			Temperature: stripExpr(attrString(start, "temperature")), Result: attrString(start, "result"),
		}
		n.Pos = pos
		return n, nil

	case "knowledge":
		return p.parseKnowledge(dec, start, path, pos)

	case "search":
		body, err := collectRawText(dec, path)
		if err != nil {
			return nil, err
		}
		q := attrString(start, "query")
		if q == "" {
			q = body
		}
		n := &ast.SearchNode{
			Knowledge: attrString(start, "knowledge"), Query: stripExpr(q),
			TopK: attrInt(start, "topK", 5), Answer: attrBool(start, "answer", false), Result: attrString(start, "result"),
		}
		n.Pos = pos
		return n, nil

	case "persist":
		if err := skipElement(dec); err != nil {
			return nil, err
		}
		n := &ast.PersistNode{
			Name: attrString(start, "name"), Scope: attrStringDefault(start, "scope", "local"),
			PersistKey: attrString(start, "key"), Prefix: attrString(start, "prefix"),
			TTLSeconds: attrInt(start, "ttlSeconds", 0), Encrypt: attrBool(start, "encrypt", false),
		}
		n.Pos = pos
		return n, nil

	case "component":
		// A nested q:component is parsed and handed back as an ordinary
		// statement-list member; the common case (components declared at
		// application level) is handled by parseApplication instead.
		return p.parseComponent(dec, start, path)

	default:
		return nil, errUnknownTag(path, "q", local, dec)
	}
}

func priorityOf(s string) int {
	switch s {
	case "high":
		return 2
	case "low":
		return 0
	default:
		return 1
	}
}

// attrExprMap collects every attribute except those in exclude into a
// name->raw-expression-text map, used by nodes whose arbitrary extra
// attributes become call/log/header arguments.
func attrExprMap(start xml.StartElement, exclude []string) map[string]string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	out := make(map[string]string)
	for _, a := range start.Attr {
		if skip[a.Name.Local] {
			continue
		}
		out[a.Name.Local] = stripExpr(a.Value)
	}
	return out
}

// collectRawText concatenates character data directly inside an element
// (ignoring nested elements, which statement-like leaf tags don't carry)
// until its matching EndElement; this is the inline-body form some tags
// accept as an alternative to a `value`/`body` attribute (e.g. `q:set`,
// `q:mail`).
func collectRawText(dec *xml.Decoder, path string) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return sb.String(), parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return sb.String(), nil
			}
			depth--
		}
	}
}

func (p *Parser) parseLoop(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	varName := attrStringDefault(start, "var", "item")
	var source string
	if items := attrString(start, "items"); items != "" {
		source = stripExpr(items)
	} else {
		from := stripExpr(attrStringDefault(start, "from", "0"))
		to := stripExpr(attrStringDefault(start, "to", "0"))
		step := stripExpr(attrStringDefault(start, "step", "1"))
		// Inclusive-end range lowered onto the safe `range`/`list`
		// built-ins rather than a dedicated range AST shape.
		source = fmt.Sprintf("list(range(%s, (%s) + 1, %s))", from, to, step)
	}
	body, err := p.parseStatementList(dec, path)
	if err != nil {
		return nil, err
	}
	n := &ast.LoopNode{Source: source, Var: varName, Body: body}
	n.Pos = pos
	return n, nil
}

func (p *Parser) parseFunction(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	name := attrString(start, "name")
	var params []*ast.ParamNode
	var body []ast.Node
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			n := &ast.FunctionNode{
				Name: name, Params: params, Body: body,
				Rest:       attrBool(start, "rest", false),
				RestMethod: attrString(start, "method"),
				RestPath:   attrString(start, "path"),
			}
			n.Pos = pos
			return n, nil
		case xml.CharData:
			if strings.TrimSpace(string(t)) != "" {
				body = append(body, &ast.TextNode{Text: string(t)})
			}
		case xml.StartElement:
			child := t.Copy()
			if namespaceOf(child.Name) == "q" && child.Name.Local == "param" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				pn := &ast.ParamNode{Name: attrString(child, "name"), Default: stripExpr(attrString(child, "default"))}
				params = append(params, pn)
				continue
			}
			node, perr := p.parseAnyNode(dec, child, path)
			if perr != nil {
				return nil, perr
			}
			if node != nil {
				body = append(body, node)
			}
		}
	}
}

func (p *Parser) parseCall(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	if err := skipElement(dec); err != nil {
		return nil, err
	}
	n := &ast.FunctionCallNode{
		Name: attrString(start, "name"),
		Args: attrExprMap(start, []string{"name", "result"}), Result: attrString(start, "result"),
	}
	n.Pos = pos
	return n, nil
}

func (p *Parser) parseQuery(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	body, err := collectRawText(dec, path)
	if err != nil {
		return nil, err
	}
	sql := attrString(start, "sql")
	if sql == "" {
		sql = body
	}
	datasourceID := attrString(start, "datasource")
	resultVar := attrString(start, "result")
	params := attrExprMap(start, []string{"datasource", "result", "sql"})

	dsType := p.resolveDatasourceType(datasourceID)
	switch dsType {
	case ast.DSLLM:
		n := &ast.LLMGenerateNode{LLM: datasourceID, Prompt: stripExpr(sql), Result: resultVar}
		n.Pos = pos
		return n, nil
	case ast.DSKnowledge:
		n := &ast.SearchNode{
			Knowledge: datasourceID, Query: stripExpr(sql), TopK: attrInt(start, "topK", 5),
			Answer: attrBool(start, "answer", false), Result: resultVar,
		}
		n.Pos = pos
		return n, nil
	default:
		// Unknown or database-shaped datasource: keep as QueryNode. An id
		// that never resolves is reported at execution time, since the
		// parser has no authoritative datasource registry to fail against
		// beyond the last-parsed application.
		n := &ast.QueryNode{Datasource: datasourceID, SQL: sql, Params: params, Result: resultVar}
		n.Pos = pos
		return n, nil
	}
}

// resolveDatasourceType looks up id in the most recently parsed
// application's datasource map. Returns
// DSUnknown if no application has been parsed yet or id isn't declared.
func (p *Parser) resolveDatasourceType(id string) ast.DatasourceType {
	app := p.LastApplication()
	if app == nil || app.Datasources == nil {
		return ast.DSUnknown
	}
	ds, ok := app.Datasources[id]
	if !ok {
		return ast.DSUnknown
	}
	return ds.Type
}

func (p *Parser) parseMessage(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	headers := make(map[string]string)
	var body strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			b := attrString(start, "body")
			if b == "" {
				b = body.String()
			}
			n := &ast.MessageNode{
				Type: attrString(start, "type"), Topic: attrString(start, "topic"),
				Queue: attrString(start, "queue"), Body: stripExpr(b), Headers: headers,
				TimeoutMS: attrInt(start, "timeoutMs", 0), Result: attrString(start, "result"),
			}
			n.Pos = pos
			return n, nil
		case xml.CharData:
			body.Write(t)
		case xml.StartElement:
			child := t.Copy()
			if namespaceOf(child.Name) == "q" && child.Name.Local == "header" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				headers[attrString(child, "name")] = attrString(child, "value")
				continue
			}
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}
}

func (p *Parser) parseAgent(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	name := attrString(start, "name")
	llm := attrString(start, "llm")
	maxIter := attrInt(start, "maxIterations", 10)
	timeoutMS := attrInt(start, "timeoutMs", 60000)
	var tools []*ast.AgentToolNode
	var instructions []*ast.AgentInstructionNode

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			n := &ast.AgentNode{
				Name: name, LLM: llm, Tools: tools, Instructions: instructions,
				MaxIterations: maxIter, TimeoutMS: timeoutMS,
			}
			n.Pos = pos
			return n, nil
		case xml.CharData:
			if strings.TrimSpace(string(t)) != "" {
				instructions = append(instructions, &ast.AgentInstructionNode{Text: string(t)})
			}
		case xml.StartElement:
			child := t.Copy()
			if namespaceOf(child.Name) != "q" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			switch child.Name.Local {
			case "agent-tool":
				tool, terr := p.parseAgentTool(dec, child, path)
				if terr != nil {
					return nil, terr
				}
				tools = append(tools, tool)
			case "agent-instruction":
				body, berr := collectRawText(dec, path)
				if berr != nil {
					return nil, berr
				}
				instructions = append(instructions, &ast.AgentInstructionNode{Text: body})
			default:
				if err := skipElement(dec); err != nil {
					return nil, err
				}
			}
		}
	}
}

func (p *Parser) parseAgentTool(dec *xml.Decoder, start xml.StartElement, path string) (*ast.AgentToolNode, error) {
	name := attrString(start, "name")
	desc := attrString(start, "description")
	handler := attrString(start, "handler")
	var params []*ast.AgentToolParamNode
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return &ast.AgentToolNode{Name: name, Description: desc, Handler: handler, Params: params}, nil
		case xml.StartElement:
			child := t.Copy()
			if namespaceOf(child.Name) == "q" && child.Name.Local == "agent-tool-param" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				params = append(params, &ast.AgentToolParamNode{
					Name: attrString(child, "name"), Type: attrStringDefault(child, "type", "string"),
					Description: attrString(child, "description"), Required: attrBool(child, "required", false),
				})
				continue
			}
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}
}

func (p *Parser) parseKnowledge(dec *xml.Decoder, start xml.StartElement, path string, pos ast.Pos) (ast.Node, error) {
	name := attrString(start, "name")
	vectorStore := attrString(start, "vectorStore")
	embeddings := attrString(start, "embeddings")
	chunkSize := attrInt(start, "chunkSize", 1000)
	chunkOverlap := attrInt(start, "chunkOverlap", 100)
	var sources []*ast.KnowledgeSourceNode
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErrorAt(dec, path, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			n := &ast.KnowledgeNode{
				Name: name, VectorStore: vectorStore, Embeddings: embeddings,
				ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Sources: sources,
			}
			n.Pos = pos
			return n, nil
		case xml.StartElement:
			child := t.Copy()
			if namespaceOf(child.Name) == "q" && child.Name.Local == "knowledge-source" {
				body, berr := collectRawText(dec, path)
				if berr != nil {
					return nil, berr
				}
				ref := attrString(child, "ref")
				if ref == "" {
					ref = body
				}
				sources = append(sources, &ast.KnowledgeSourceNode{Type: attrStringDefault(child, "type", "text"), Ref: stripExpr(ref)})
				continue
			}
			if err := skipElement(dec); err != nil {
				return nil, err
			}
		}
	}
}
