// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package genealogy implements the streaming genealogy graph engine.
//
// A genealogy trace takes a user-entered concept (e.g. "freedom") and
// asks a text-generation backend for the chronological influences that
// shaped it. The backend answers with a loosely structured event stream;
// this package parses that stream, deduplicates the resulting items into
// a shared graph of concepts, and lets callers expand any item into a
// sub-trace of its own.
//
// The moving parts, leaves first:
//
//   - ParseLine / ParseEventFrame: convert one line or one wire frame
//     into a typed record, tolerating format drift.
//   - StreamDecoder: reassembles delimiter-bounded frames from byte
//     chunks of arbitrary size.
//   - GraphStore: the authoritative deduplicated graph of all traced
//     concepts.
//   - ExpansionController: fetch-and-merge cycles per node, guarded by a
//     per-node state machine.
//   - TraceSession: drives one top-level trace and exposes a typed
//     event feed for presentation layers.
package genealogy

import "encoding/json"

// NodeKind identifies what a graph vertex represents.
type NodeKind string

const (
	// NodeKindRoot is the pseudo-item standing in for the original query.
	NodeKindRoot NodeKind = "root"

	// NodeKindGenealogy is a parsed genealogy item.
	NodeKindGenealogy NodeKind = "genealogy"

	// NodeKindQuestion is an open question raised by the backend.
	NodeKindQuestion NodeKind = "question"
)

// EdgeKind identifies the relation an edge encodes.
type EdgeKind string

const (
	// EdgeKindTemporal links consecutive items within one concept's chain.
	EdgeKindTemporal EdgeKind = "temporal"

	// EdgeKindCrossConcept links a concept's chain to an item first
	// produced by a different concept. This is the only kind permitted
	// to connect nodes owned by different concepts.
	EdgeKindCrossConcept EdgeKind = "cross_concept"

	// EdgeKindExpansion links an expanded node to the items its
	// sub-trace produced.
	EdgeKindExpansion EdgeKind = "expansion"

	// EdgeKindQuestion links a concept's root to a question node.
	EdgeKindQuestion EdgeKind = "question"
)

// ExpansionState tracks the expand lifecycle of a genealogy node.
//
// Root and question nodes stay ExpansionUnexpanded forever; only
// genealogy nodes move through the machine.
type ExpansionState string

const (
	// ExpansionUnexpanded means the node has never produced a sub-trace
	// (or its last attempt failed or found nothing, leaving it retryable).
	ExpansionUnexpanded ExpansionState = "unexpanded"

	// ExpansionExpanding means a fetch is in flight. At most one
	// expansion per node may be in this state.
	ExpansionExpanding ExpansionState = "expanding"

	// ExpansionExpanded means a sub-trace merged at least one record.
	// Terminal: further expand requests are rejected.
	ExpansionExpanded ExpansionState = "expanded"

	// ExpansionFailed marks a node whose last expansion errored. The
	// controller resets failures to ExpansionUnexpanded so they stay
	// retryable; this value appears only in restored snapshots from
	// older writers and is treated as retryable too.
	ExpansionFailed ExpansionState = "failed"
)

// GenealogyItem is the ephemeral result of parsing one record. It is
// converted into a Node on ingestion and not retained afterwards.
type GenealogyItem struct {
	// Title of the influencing work, event, or idea.
	Title string `json:"title"`

	// Year is free-form: a 4-digit year, a century phrase, or "Unknown".
	// Numeric interpretation is left to downstream timeline logic.
	Year string `json:"year"`

	// URL is an optional reference link. Empty means absent.
	URL string `json:"url,omitempty"`

	// Claim is the backend's one-line justification for the influence.
	Claim string `json:"claim"`
}

// Node is one graph vertex.
type Node struct {
	// ID is stable and derived from title and year; unique graph-wide.
	ID string `json:"id"`

	Kind  NodeKind `json:"kind"`
	Title string   `json:"title"`
	Year  string   `json:"year,omitempty"`
	URL   string   `json:"url,omitempty"`
	Claim string   `json:"claim,omitempty"`

	// OwnerConceptKey is the normalized key of the concept that first
	// produced this node. Other concepts may link to it, but ownership
	// never changes.
	OwnerConceptKey string `json:"owner_concept_key"`

	// ExpansionState is meaningful for genealogy nodes only.
	ExpansionState ExpansionState `json:"expansion_state"`

	// Position hints for the rendering layer. Opaque to the engine.
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Pinned bool    `json:"pinned,omitempty"`
}

// Expandable reports whether the node may enter the expansion machine.
func (n *Node) Expandable() bool {
	return n.Kind == NodeKindGenealogy
}

// Edge is a directed relation between two node ids. No two edges share
// the same ordered (SourceID, TargetID) pair.
type Edge struct {
	SourceID        string   `json:"source_id"`
	TargetID        string   `json:"target_id"`
	Kind            EdgeKind `json:"kind"`
	OwnerConceptKey string   `json:"owner_concept_key"`
}

// Concept identifies one traced query and the nodes it has produced.
type Concept struct {
	// Query is the user-entered text, case preserved for display.
	Query string `json:"query"`

	// NormalizedKey is the identity key: lowercased and trimmed Query.
	NormalizedKey string `json:"normalized_key"`

	// ColorToken indexes a fixed palette, assigned in allocation order.
	ColorToken int `json:"color_token"`

	// Visible toggles participation in the visible subgraph. It is the
	// only mutable field after creation.
	Visible bool `json:"visible"`

	// RootNodeID is the id of the concept's root pseudo-node, or empty
	// for synthetic expansion concepts.
	RootNodeID string `json:"root_node_id,omitempty"`

	// NodeIDs lists the node ids belonging to this concept's chain, in
	// arrival order. Cross-referenced ids owned by other concepts may
	// appear here.
	NodeIDs []string `json:"node_ids"`
}

// Snapshot is the serializable form of the whole graph, sufficient to
// restore GraphStore state across a process restart.
type Snapshot struct {
	Nodes    []*Node    `json:"nodes"`
	Edges    []*Edge    `json:"edges"`
	Concepts []*Concept `json:"concepts"`
}

// EventType discriminates wire events produced by the backend.
type EventType string

const (
	EventStatus        EventType = "status"
	EventMorphology    EventType = "morphology"
	EventGenealogyItem EventType = "genealogy_item"
	EventSection       EventType = "section"
	EventQuestion      EventType = "question"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"

	// EventUnknown carries frames whose type discriminator is not
	// recognized. They pass through unchanged for forward compatibility
	// rather than being dropped.
	EventUnknown EventType = "unknown"
)

// StreamEvent is one decoded wire event. The Type field determines
// which of the remaining fields are populated.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Message is set for status and error events.
	Message string `json:"message,omitempty"`

	// Title, Year, URL, Claim are set for genealogy_item events.
	Title string `json:"title,omitempty"`
	Year  string `json:"year,omitempty"`
	URL   string `json:"url,omitempty"`
	Claim string `json:"claim,omitempty"`

	// Section is set for section events.
	Section string `json:"section,omitempty"`

	// Text is set for question events.
	Text string `json:"text,omitempty"`

	// RawType preserves the original discriminator for unknown events.
	RawType string `json:"-"`

	// Raw preserves the original payload for unknown and morphology
	// events so downstream consumers can interpret them.
	Raw json.RawMessage `json:"-"`
}

// Item converts a genealogy_item event into its parse-result form.
func (e *StreamEvent) Item() *GenealogyItem {
	return &GenealogyItem{
		Title: e.Title,
		Year:  e.Year,
		URL:   e.URL,
		Claim: e.Claim,
	}
}

// Terminal reports whether the event ends a trace session.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
