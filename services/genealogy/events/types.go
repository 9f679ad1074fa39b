// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the semantic event feed trace sessions and
// expansions expose to presentation layers.
//
// Events decouple the engine from rendering: the engine emits typed
// events as the graph grows, and any number of subscribers (SSE
// handlers, CLIs, tests) observe them without the engine knowing who
// is listening.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// TypeStatus is emitted when the backend reports progress.
	TypeStatus Type = "status"

	// TypeItem is emitted after a genealogy item merged into the graph.
	TypeItem Type = "item"

	// TypeQuestion is emitted when the backend raises an open question.
	TypeQuestion Type = "question"

	// TypeSectionEntered is emitted when the stream enters a named section.
	TypeSectionEntered Type = "section_entered"

	// TypeError is emitted once when a session fails; terminal.
	TypeError Type = "error"

	// TypeComplete is emitted once when a session finishes; terminal.
	TypeComplete Type = "complete"

	// TypeExpansionStarted is emitted when a node begins expanding.
	TypeExpansionStarted Type = "expansion_started"

	// TypeExpansionFinished is emitted when an expansion settles.
	TypeExpansionFinished Type = "expansion_finished"
)

// Event is one observation of engine behavior.
//
// Thread Safety: Events are immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event and the shape of Data.
	Type Type `json:"type"`

	// SessionID links the event to a trace session, when one exists.
	SessionID string `json:"session_id,omitempty"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Data is one of the typed payload structs below.
	Data any `json:"data,omitempty"`
}

// StatusData is the payload for TypeStatus.
type StatusData struct {
	Message string `json:"message"`
}

// ItemData is the payload for TypeItem.
type ItemData struct {
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
	Year   string `json:"year"`
	URL    string `json:"url,omitempty"`
	Claim  string `json:"claim"`

	// WasNew is false when the item deduplicated onto an existing node.
	WasNew bool `json:"was_new"`
}

// QuestionData is the payload for TypeQuestion.
type QuestionData struct {
	NodeID string `json:"node_id,omitempty"`
	Text   string `json:"text"`
}

// SectionData is the payload for TypeSectionEntered.
type SectionData struct {
	Name string `json:"name"`
}

// ErrorData is the payload for TypeError.
type ErrorData struct {
	// Kind distinguishes transport failures from timeouts so the
	// presentation layer can offer retry messaging.
	Kind string `json:"kind"`

	Message string `json:"message"`
}

// Error kinds carried by ErrorData.
const (
	ErrorKindTransport = "transport"
	ErrorKindTimeout   = "timeout"
	ErrorKindBackend   = "backend"
)

// CompleteData is the payload for TypeComplete.
type CompleteData struct {
	ConceptKey string `json:"concept_key"`
	ItemCount  int    `json:"item_count"`

	// FromCache is true when the trace replayed a cached result
	// instead of opening the backend stream.
	FromCache bool `json:"from_cache,omitempty"`
}

// ExpansionStartedData is the payload for TypeExpansionStarted.
type ExpansionStartedData struct {
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
}

// ExpansionFinishedData is the payload for TypeExpansionFinished.
type ExpansionFinishedData struct {
	NodeID string `json:"node_id"`

	// Status is "expanded", "empty", or "failed".
	Status string `json:"status"`

	NewNodeIDs []string `json:"new_node_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// now returns the current time in Unix milliseconds.
func now() int64 {
	return time.Now().UnixMilli()
}
