// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var graphJSON bool

// graphCmd prints the visible subgraph.
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the visible subgraph",
	Args:  cobra.NoArgs,
	RunE:  runGraphCommand,
}

// healthCmd prints server health and graph counts.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show server health and graph counts",
	Args:  cobra.NoArgs,
	RunE:  runHealthCommand,
}

func init() {
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "Output raw JSON")
}

type graphNode struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Year           string `json:"year"`
	ExpansionState string `json:"expansion_state"`
}

type graphEdge struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
}

func runGraphCommand(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/v1/genealogy/graph")
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var graph struct {
		Nodes []graphNode `json:"nodes"`
		Edges []graphEdge `json:"edges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&graph); err != nil {
		return fmt.Errorf("decode graph: %w", err)
	}

	if graphJSON {
		out, err := json.MarshalIndent(graph, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Nodes (%d):\n", len(graph.Nodes))
	for _, n := range graph.Nodes {
		switch n.Kind {
		case "genealogy":
			fmt.Printf("  [%s] %s (%s)  id=%s\n", n.ExpansionState, n.Title, n.Year, n.ID)
		default:
			fmt.Printf("  [%s] %s  id=%s\n", n.Kind, n.Title, n.ID)
		}
	}

	fmt.Printf("\nEdges (%d):\n", len(graph.Edges))
	for _, e := range graph.Edges {
		fmt.Printf("  %s -%s-> %s\n", e.SourceID, e.Kind, e.TargetID)
	}
	return nil
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/v1/genealogy/health")
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var health struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Nodes    int    `json:"nodes"`
		Edges    int    `json:"edges"`
		Concepts int    `json:"concepts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}

	fmt.Printf("Status:   %s (v%s)\n", health.Status, health.Version)
	fmt.Printf("Concepts: %d\n", health.Concepts)
	fmt.Printf("Nodes:    %d\n", health.Nodes)
	fmt.Printf("Edges:    %d\n", health.Edges)
	return nil
}
