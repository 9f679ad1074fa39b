// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command genctl is the CLI client for the genealogy graph API server.
//
// Usage:
//
//	genctl trace "freedom"            # Trace a concept, stream events
//	genctl expand <node-id>           # Expand a node into a sub-trace
//	genctl graph                      # Print the visible subgraph
//	genctl health                     # Server health and graph counts
//
// The server address defaults to http://localhost:8080 and can be
// overridden with --server or GENEALOGY_SERVER.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// serverURL is the base address of the genealogy server.
var serverURL string

var rootCmd = &cobra.Command{
	Use:          "genctl",
	Short:        "Client for the genealogy graph API server",
	SilenceUsage: true,
}

func init() {
	defaultServer := os.Getenv("GENEALOGY_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer,
		"Genealogy server base URL")

	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
