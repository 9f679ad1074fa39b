// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the genealogy endpoints onto a router group.
//
// Routes:
//
//	POST   /v1/genealogy/trace - Start a trace, stream its events (SSE)
//	POST   /v1/genealogy/expand - Expand a node into a sub-trace
//	GET    /v1/genealogy/graph - Visible subgraph
//	GET    /v1/genealogy/snapshot - Full graph snapshot
//	POST   /v1/genealogy/restore - Replace the graph from a snapshot
//	DELETE /v1/genealogy/concepts/:key - Remove a concept and cascade
//	PATCH  /v1/genealogy/concepts/:key/visibility - Toggle visibility
//	PATCH  /v1/genealogy/nodes/:id/position - Store layout hints
//	GET    /v1/genealogy/health - Health check
//
// Example:
//
//	service := genealogy.NewService(genealogy.WithStreamOpener(opener))
//	handlers := api.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/genealogy")
	{
		// Tracing
		g.POST("/trace", handlers.HandleTrace)
		g.POST("/expand", handlers.HandleExpand)

		// Graph access
		g.GET("/graph", handlers.HandleGraph)
		g.GET("/snapshot", handlers.HandleSnapshot)
		g.POST("/restore", handlers.HandleRestore)

		// Concept management
		g.DELETE("/concepts/:key", handlers.HandleRemoveConcept)
		g.PATCH("/concepts/:key/visibility", handlers.HandleVisibility)

		// Rendering hints
		g.PATCH("/nodes/:id/position", handlers.HandlePosition)

		// Operational
		g.GET("/health", handlers.HandleHealth)
	}
}
