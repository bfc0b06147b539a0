// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// quantum is the reference CLI entrypoint wiring the runtime core's
// collaborators (AST cache, parser, interpreter, job queue, broker)
// together for local use. Render-target adapters, a dev server, and hot
// reload are deliberately not here; this binary only exercises the
// core end to end as a thin cobra command tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "quantum",
	Short: "Run and inspect quantum framework component documents",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a quantum.yaml config file")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
