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

import "errors"

// Sentinel errors for the genealogy engine.
//
// Expansion conflicts (ErrAlreadyExpanding, ErrAlreadyExpanded,
// ErrNotExpandable) are expected races from user double-clicks and are
// returned as values, never panics.
var (
	// ErrNodeNotFound indicates the referenced node id does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrConceptNotFound indicates the referenced concept key does not exist.
	ErrConceptNotFound = errors.New("concept not found")

	// ErrAlreadyExpanding indicates an expansion is already in flight
	// for this node.
	ErrAlreadyExpanding = errors.New("expansion already in progress")

	// ErrAlreadyExpanded indicates the node has already merged a
	// sub-trace; re-expansion is rejected to avoid duplicate growth.
	ErrAlreadyExpanded = errors.New("node already expanded")

	// ErrNotExpandable indicates the node is a root or question node.
	ErrNotExpandable = errors.New("node is not expandable")

	// ErrTransport indicates a network failure, non-2xx response, or
	// malformed response body from the genealogy backend.
	ErrTransport = errors.New("genealogy backend transport failure")

	// ErrTraceTimeout indicates the session deadline elapsed before the
	// backend completed. Distinct from ErrTransport so callers can
	// offer retry messaging.
	ErrTraceTimeout = errors.New("trace timed out")

	// ErrSessionStarted indicates Start was called twice on a session.
	ErrSessionStarted = errors.New("session already started")

	// ErrNoBackend indicates the service has no stream opener configured.
	ErrNoBackend = errors.New("no genealogy backend configured")

	// ErrBackendReported indicates the backend stream delivered a
	// terminal error event for the trace. Distinct from ErrNoBackend,
	// which is a configuration problem, and from ErrTransport, which is
	// a failure to talk to the backend at all.
	ErrBackendReported = errors.New("backend reported an error")

	// ErrBadSnapshot indicates a snapshot referenced missing endpoints
	// or was otherwise internally inconsistent.
	ErrBadSnapshot = errors.New("snapshot is inconsistent")
)
