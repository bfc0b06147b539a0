// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...";
// it stays "dev" for local builds.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the quantum binary version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("quantum " + version)
		return nil
	},
}
