// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package genealogy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// Fetcher is the injected capability that produces a node's sub-trace:
// the complete genealogy for a title as one plain-text body of line
// records.
type Fetcher interface {
	FetchGenealogy(ctx context.Context, title string) (string, error)
}

// ExpandStatus distinguishes the success variants of an expansion.
type ExpandStatus string

const (
	// ExpandStatusExpanded means at least one new record merged.
	ExpandStatusExpanded ExpandStatus = "expanded"

	// ExpandStatusEmpty means the fetch succeeded but produced no new
	// records. The node stays retryable in case the source improves.
	ExpandStatusEmpty ExpandStatus = "empty"
)

// ExpandResult reports a successful expansion.
type ExpandResult struct {
	NodeID     string       `json:"node_id"`
	Status     ExpandStatus `json:"status"`
	NewNodeIDs []string     `json:"new_node_ids,omitempty"`
}

// ExpansionController turns a genealogy node into the root of its own
// fetched sub-trace, safely under concurrency.
//
// The per-node expansion state on the Node itself acts as the mutex:
// BeginExpansion admits exactly one caller per node, so double-clicks
// and concurrent API calls observe typed conflicts instead of racing.
//
// Thread Safety: ExpansionController is safe for concurrent use;
// distinct nodes may expand in parallel.
type ExpansionController struct {
	store   *GraphStore
	fetcher Fetcher
	emitter *events.Emitter
	logger  *slog.Logger
}

// ControllerOption configures an ExpansionController.
type ControllerOption func(*ExpansionController)

// WithControllerEmitter attaches a lifecycle event emitter.
func WithControllerEmitter(emitter *events.Emitter) ControllerOption {
	return func(c *ExpansionController) {
		c.emitter = emitter
	}
}

// WithControllerLogger overrides the default logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *ExpansionController) {
		c.logger = logger
	}
}

// NewExpansionController creates a controller over the given store and
// fetch capability.
func NewExpansionController(store *GraphStore, fetcher Fetcher, opts ...ControllerOption) *ExpansionController {
	c := &ExpansionController{
		store:   store,
		fetcher: fetcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expand fetches and merges the sub-trace rooted at a node.
//
// Description:
//
//	Moves the node unexpanded → expanding, fetches its genealogy, and
//	parses the body line by line. Records whose exact title already
//	names a genealogy node are skipped; this check is stricter than
//	the fuzzy cross-reference merge used during streaming ingestion.
//	Surviving records join a synthetic concept owning the node's
//	children, linked from the expanded node by expansion edges. At
//	least one new record settles the node expanded; zero new records
//	or any failure return it to unexpanded, retryable either way.
//
// Inputs:
//
//	ctx - Governs the fetch; cancellation surfaces as a failure.
//	nodeID - The node to expand.
//
// Outputs:
//
//	*ExpandResult - Non-nil on success, including the empty outcome.
//	error - ErrNodeNotFound, ErrNotExpandable, ErrAlreadyExpanding,
//	ErrAlreadyExpanded, or a wrapped fetch failure.
//
// Thread Safety: This method is safe for concurrent use. A second call
// for the same node while one is in flight observes ErrAlreadyExpanding.
func (c *ExpansionController) Expand(ctx context.Context, nodeID string) (*ExpandResult, error) {
	node, ok := c.store.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("expand %q: %w", nodeID, ErrNodeNotFound)
	}

	if err := c.store.BeginExpansion(nodeID); err != nil {
		return nil, err
	}

	c.emit(events.TypeExpansionStarted, events.ExpansionStartedData{
		NodeID: nodeID,
		Title:  node.Title,
	})

	body, err := c.fetcher.FetchGenealogy(ctx, node.Title)
	if err != nil {
		c.store.FinishExpansion(nodeID, 0, true)
		c.logger.Warn("expansion fetch failed",
			slog.String("node_id", nodeID),
			slog.String("error", err.Error()),
		)
		c.emit(events.TypeExpansionFinished, events.ExpansionFinishedData{
			NodeID: nodeID,
			Status: "failed",
			Error:  err.Error(),
		})
		return nil, fmt.Errorf("expand %q: %w", nodeID, err)
	}

	newIDs := c.merge(nodeID, node.Title, body)
	c.store.FinishExpansion(nodeID, len(newIDs), false)

	result := &ExpandResult{
		NodeID:     nodeID,
		Status:     ExpandStatusExpanded,
		NewNodeIDs: newIDs,
	}
	if len(newIDs) == 0 {
		result.Status = ExpandStatusEmpty
	}

	c.emit(events.TypeExpansionFinished, events.ExpansionFinishedData{
		NodeID:     nodeID,
		Status:     string(result.Status),
		NewNodeIDs: newIDs,
	})

	return result, nil
}

// merge parses a fetched body and merges its records under the node's
// synthetic expansion concept, returning the ids of new nodes.
func (c *ExpansionController) merge(nodeID, title, body string) []string {
	ownerKey := ExpansionConceptKey(nodeID)
	c.store.ensureExpansionConcept(nodeID, title)

	var newIDs []string
	for _, line := range strings.Split(body, "\n") {
		item := ParseLine(line)
		if item == nil {
			continue
		}
		if c.store.HasGenealogyNodeTitled(item.Title) {
			continue
		}

		node, wasNew, err := c.store.AddItem(item, ownerKey, "")
		if err != nil {
			// The synthetic concept exists; only a concurrent
			// RemoveConcept can race us here. Skip the record.
			c.logger.Warn("expansion merge skipped record",
				slog.String("node_id", nodeID),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.store.AddEdge(nodeID, node.ID, EdgeKindExpansion, ownerKey)
		if wasNew {
			newIDs = append(newIDs, node.ID)
		}
	}
	return newIDs
}

func (c *ExpansionController) emit(eventType events.Type, data any) {
	if c.emitter != nil {
		c.emitter.Emit(eventType, data)
	}
}
