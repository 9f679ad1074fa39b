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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// expandCmd expands one node into a sub-trace.
//
// Examples:
//
//	genctl expand printing_press_1440
var expandCmd = &cobra.Command{
	Use:   "expand <node-id>",
	Short: "Expand a node into its own sub-trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpandCommand,
}

func runExpandCommand(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"node_id": args[0]})
	if err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/v1/genealogy/expand", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}

	var result struct {
		NodeID     string   `json:"node_id"`
		Status     string   `json:"status"`
		NewNodeIDs []string `json:"new_node_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	switch result.Status {
	case "empty":
		fmt.Printf("No new influences found for %s (still retryable)\n", result.NodeID)
	default:
		fmt.Printf("Expanded %s: %d new nodes\n", result.NodeID, len(result.NewNodeIDs))
		for _, id := range result.NewNodeIDs {
			fmt.Printf("  + %s\n", id)
		}
	}
	return nil
}

// decodeServerError turns a non-200 response into a readable error.
func decodeServerError(resp *http.Response) error {
	var serverErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &serverErr) == nil && serverErr.Error != "" {
		return fmt.Errorf("%s: %s (%s)", resp.Status, serverErr.Error, serverErr.Code)
	}
	return errors.New(resp.Status)
}
