// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the genealogy engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/GenealogyFOSS/services/genealogy"
	"github.com/AleutianAI/GenealogyFOSS/services/genealogy/events"
)

// ServiceVersion is the genealogy service version.
const ServiceVersion = "0.1.0"

// sseChannelDepth buffers the per-connection event channel; a stalled
// client drops events rather than blocking the session.
const sseChannelDepth = 256

// TraceRequest is the body for POST /v1/genealogy/trace.
type TraceRequest struct {
	Query string `json:"query" binding:"required"`
	Model string `json:"model"`
}

// ExpandRequest is the body for POST /v1/genealogy/expand.
type ExpandRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

// VisibilityRequest is the body for PATCH visibility.
type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// PositionRequest is the body for PATCH position.
type PositionRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Pinned bool    `json:"pinned"`
}

// GraphResponse is the body for GET /v1/genealogy/graph.
type GraphResponse struct {
	Nodes []*genealogy.Node `json:"nodes"`
	Edges []*genealogy.Edge `json:"edges"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for the genealogy service.
type Handlers struct {
	svc *genealogy.Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *genealogy.Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleTrace handles POST /v1/genealogy/trace.
//
// Description:
//
//	Starts a trace session for the query and streams its event feed to
//	the client as SSE until the session settles or the client
//	disconnects. Disconnecting cancels the session.
//
// Response:
//
//	200 OK: text/event-stream of session events
//	400 Bad Request: Validation error
//	502 Bad Gateway: Stream could not be opened
//	503 Service Unavailable: No backend configured
func (h *Handlers) HandleTrace(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTrace")

	var req TraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Starting trace", "query", req.Query)

	session, err := h.svc.NewTrace(c.Request.Context(), req.Query, req.Model)
	if err != nil {
		status := http.StatusBadGateway
		code := "STREAM_OPEN_FAILED"
		if errors.Is(err, genealogy.ErrNoBackend) {
			status = http.StatusServiceUnavailable
			code = "NO_BACKEND"
		}
		logger.Error("Trace failed to start", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	h.streamSession(c, session, logger)
}

// streamSession relays a session's event feed over SSE.
//
// Description:
//
//	Subscribes to the live feed first, then replays the buffer, so
//	events emitted between session start and subscription are not
//	lost; the overlap window is deduplicated by event id.
func (h *Handlers) streamSession(c *gin.Context, session *genealogy.TraceSession, logger *slog.Logger) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logger.Error("ResponseWriter does not support flushing")
		return
	}

	feed := make(chan events.Event, sseChannelDepth)
	subID := session.Events().Subscribe(func(event *events.Event) {
		select {
		case feed <- *event:
		default:
			logger.Warn("SSE feed full, event dropped", "event_type", event.Type)
		}
	})
	defer session.Events().Unsubscribe(subID)

	seen := make(map[string]struct{})
	terminal := false
	for _, event := range session.Events().Buffer() {
		seen[event.ID] = struct{}{}
		writeSSE(c.Writer, flusher, &event)
		if isTerminal(event.Type) {
			terminal = true
		}
	}

	for !terminal {
		select {
		case event := <-feed:
			if _, dup := seen[event.ID]; dup {
				continue
			}
			writeSSE(c.Writer, flusher, &event)
			terminal = isTerminal(event.Type)

		case <-c.Request.Context().Done():
			logger.Info("Client disconnected, cancelling trace",
				"session_id", session.ID())
			session.Cancel()
			return

		case <-session.Done():
			// Drain anything emitted before settlement.
			for {
				select {
				case event := <-feed:
					if _, dup := seen[event.ID]; dup {
						continue
					}
					writeSSE(c.Writer, flusher, &event)
				default:
					return
				}
			}
		}
	}
}

func isTerminal(t events.Type) bool {
	return t == events.TypeComplete || t == events.TypeError
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}

// HandleExpand handles POST /v1/genealogy/expand.
//
// Response:
//
//	200 OK: ExpandResult
//	400 Bad Request: Validation error or non-expandable node
//	404 Not Found: Unknown node
//	409 Conflict: Expansion in flight or already expanded
//	502 Bad Gateway: Fetch failure
//	503 Service Unavailable: No backend configured
func (h *Handlers) HandleExpand(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExpand")

	var req ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.svc.Expand(c.Request.Context(), req.NodeID)
	if err != nil {
		status := http.StatusBadGateway
		code := "EXPANSION_FAILED"

		switch {
		case errors.Is(err, genealogy.ErrNodeNotFound):
			status = http.StatusNotFound
			code = "NODE_NOT_FOUND"
		case errors.Is(err, genealogy.ErrNotExpandable):
			status = http.StatusBadRequest
			code = "NOT_EXPANDABLE"
		case errors.Is(err, genealogy.ErrAlreadyExpanding):
			status = http.StatusConflict
			code = "EXPANSION_IN_FLIGHT"
		case errors.Is(err, genealogy.ErrAlreadyExpanded):
			status = http.StatusConflict
			code = "ALREADY_EXPANDED"
		case errors.Is(err, genealogy.ErrNoBackend):
			status = http.StatusServiceUnavailable
			code = "NO_BACKEND"
		}

		logger.Warn("Expansion failed", "node_id", req.NodeID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Expansion settled",
		"node_id", req.NodeID,
		"status", result.Status,
		"new_nodes", len(result.NewNodeIDs),
	)
	c.JSON(http.StatusOK, result)
}

// HandleGraph handles GET /v1/genealogy/graph.
//
// Description:
//
//	Returns the visible subgraph: nodes owned by visible concepts and
//	the edges whose endpoints both survive the filter. "?visible=false"
//	skips the filter and returns every node and edge.
func (h *Handlers) HandleGraph(c *gin.Context) {
	if c.Query("visible") == "false" {
		snap := h.svc.Store().Snapshot()
		c.JSON(http.StatusOK, GraphResponse{Nodes: snap.Nodes, Edges: snap.Edges})
		return
	}
	nodes, edges := h.svc.Store().VisibleSubgraph()
	c.JSON(http.StatusOK, GraphResponse{Nodes: nodes, Edges: edges})
}

// HandleSnapshot handles GET /v1/genealogy/snapshot.
func (h *Handlers) HandleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Store().Snapshot())
}

// HandleRestore handles POST /v1/genealogy/restore.
//
// Response:
//
//	204 No Content: Graph replaced
//	400 Bad Request: Snapshot failed validation; graph unchanged
func (h *Handlers) HandleRestore(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRestore")

	var snap genealogy.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.svc.Store().Restore(&snap); err != nil {
		logger.Warn("Snapshot rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "BAD_SNAPSHOT",
		})
		return
	}

	logger.Info("Graph restored from snapshot",
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
		"concepts", len(snap.Concepts),
	)
	c.Status(http.StatusNoContent)
}

// HandleRemoveConcept handles DELETE /v1/genealogy/concepts/:key.
func (h *Handlers) HandleRemoveConcept(c *gin.Context) {
	key := c.Param("key")
	if err := h.svc.Store().RemoveConcept(key); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "CONCEPT_NOT_FOUND",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleVisibility handles PATCH /v1/genealogy/concepts/:key/visibility.
func (h *Handlers) HandleVisibility(c *gin.Context) {
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	key := c.Param("key")
	if err := h.svc.Store().SetVisibility(key, *req.Visible); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "CONCEPT_NOT_FOUND",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandlePosition handles PATCH /v1/genealogy/nodes/:id/position.
func (h *Handlers) HandlePosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	id := c.Param("id")
	if err := h.svc.Store().SetPosition(id, req.X, req.Y, req.Pinned); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "NODE_NOT_FOUND",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/genealogy/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	nodes, edges, concepts := h.svc.Store().Counts()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  ServiceVersion,
		"nodes":    nodes,
		"edges":    edges,
		"concepts": concepts,
	})
}
