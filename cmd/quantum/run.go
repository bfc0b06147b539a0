// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumlang/core/pkg/agent"
	"github.com/quantumlang/core/pkg/ast"
	"github.com/quantumlang/core/pkg/broker"
	"github.com/quantumlang/core/pkg/cache"
	"github.com/quantumlang/core/pkg/config"
	"github.com/quantumlang/core/pkg/jobs"
	"github.com/quantumlang/core/pkg/llm"
	"github.com/quantumlang/core/pkg/logging"
	"github.com/quantumlang/core/pkg/parser"
	"github.com/quantumlang/core/pkg/persist"
	"github.com/quantumlang/core/pkg/runtime"
	"github.com/quantumlang/core/pkg/wsocket"
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Parse and render a q:component or q:application document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

// buildRuntime wires every collaborator the interpreter can call into, the
// way cmd/quantum's grounding comments throughout pkg/ describe: one
// process-wide cache, one job service with a SQLite-backed
// durable queue, one broker adapter selected by cfg.Broker.Adapter,
// one multi-provider LLM client, and thin agent/wsocket/persist
// services layered over them. logger fans every collaborator's
// diagnostics through the same structured logger.
func buildRuntime(cfg config.Config, logger *logging.Logger) (*runtime.Interpreter, *cache.Cache, func(), error) {
	in := runtime.New(logger)

	db, err := sql.Open("sqlite3", cfg.JobStoreDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening job store %s: %w", cfg.JobStoreDSN, err)
	}

	llmClient := llm.NewClient()
	if cfg.LLM.Model != "" {
		llmClient.Register("default", llm.Provider(cfg.LLM.Provider), cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey)
	}
	in.LLM = llmClient

	agentSvc := agent.New(llmClient, func(ctx context.Context, handlerName string, args map[string]any) (string, error) {
		return "", fmt.Errorf("no tool handler registered for %q", handlerName)
	})
	in.Agent = agentSvc

	var brokerSvc runtime.BrokerService
	switch cfg.Broker.Adapter {
	case "nats":
		nb, err := broker.NewNatsAdapter(cfg.Broker.NatsURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.Broker.NatsURL, err)
		}
		brokerSvc = nb
	default:
		brokerSvc = broker.NewMemoryBroker()
	}
	in.Broker = brokerSvc

	jobSvc, err := jobs.New(db, func(ctx context.Context, handler string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("no q:function registered for job handler %q", handler)
	}, jobs.Options{MaxWorkers: cfg.JobWorkers})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("starting job service: %w", err)
	}
	in.Jobs = jobSvc

	in.WS = wsocket.New(nil, logger)
	in.Persist = persist.New(nil)

	c := cache.New(cfg.CacheSize, false)

	cleanup := func() { db.Close() }
	return in, c, cleanup, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Default()

	in, c, cleanup, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	p := parser.New()
	node, err := c.GetOrParse(args[0], nil, p.ParseFile)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	in.Datasources = datasourcesOf(node)
	rctx := runtime.NewContext()
	fmt.Println(in.Render(cmd.Context(), rctx, statementsOf(node)))
	return nil
}

// statementsOf returns the top-level statement list to render: a
// q:component's own body, or the first q:component inside a
// q:application (matching how a real render target picks an entry
// component out of a multi-component application document).
func statementsOf(node ast.Node) []ast.Node {
	switch n := node.(type) {
	case *ast.ComponentNode:
		return n.Statements
	case *ast.ApplicationNode:
		if len(n.Components) > 0 {
			return n.Components[0].Statements
		}
	}
	return nil
}

func datasourcesOf(node ast.Node) map[string]*ast.DatasourceNode {
	if app, ok := node.(*ast.ApplicationNode); ok {
		return app.Datasources
	}
	return nil
}
