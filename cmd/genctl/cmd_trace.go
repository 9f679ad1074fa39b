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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var traceModel string

// traceCmd streams a trace session to the terminal.
//
// Examples:
//
//	genctl trace "freedom"
//	genctl trace --model gpt-4o "the printing press"
var traceCmd = &cobra.Command{
	Use:   "trace <query>",
	Short: "Trace a concept's genealogy, streaming events as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceCommand,
}

func init() {
	traceCmd.Flags().StringVarP(&traceModel, "model", "m", "",
		"Model identifier forwarded to the backend")
}

// feedEvent mirrors the server's event envelope closely enough for
// terminal display; unknown fields are ignored.
type feedEvent struct {
	Type string `json:"type"`
	Data struct {
		Message    string   `json:"message"`
		Title      string   `json:"title"`
		Year       string   `json:"year"`
		Claim      string   `json:"claim"`
		Text       string   `json:"text"`
		Name       string   `json:"name"`
		Kind       string   `json:"kind"`
		NodeID     string   `json:"node_id"`
		Status     string   `json:"status"`
		ItemCount  int      `json:"item_count"`
		FromCache  bool     `json:"from_cache"`
		WasNew     bool     `json:"was_new"`
		NewNodeIDs []string `json:"new_node_ids"`
		Error      string   `json:"error"`
	} `json:"data"`
}

func runTraceCommand(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{
		"query": args[0],
		"model": traceModel,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/v1/genealogy/trace", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event feedEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		printFeedEvent(&event)

		if event.Type == "complete" || event.Type == "error" {
			break
		}
	}
	return scanner.Err()
}

func printFeedEvent(event *feedEvent) {
	switch event.Type {
	case "status":
		fmt.Printf("... %s\n", event.Data.Message)
	case "item":
		marker := "+"
		if !event.Data.WasNew {
			marker = "="
		}
		fmt.Printf(" %s %s (%s)\n   %s\n", marker, event.Data.Title, event.Data.Year, event.Data.Claim)
	case "question":
		fmt.Printf(" ? %s\n", event.Data.Text)
	case "section_entered":
		fmt.Printf("-- %s --\n", event.Data.Name)
	case "complete":
		source := "live"
		if event.Data.FromCache {
			source = "cache"
		}
		fmt.Printf("\nDone: %d items (%s)\n", event.Data.ItemCount, source)
	case "error":
		fmt.Printf("\nError (%s): %s\n", event.Data.Kind, event.Data.Message)
	}
}
