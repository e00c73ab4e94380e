// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianNova/services/builder/telemetry"
)

// RegisterRoutes registers the builder endpoints.
//
// Endpoints:
//
//	POST /v1/prepare       - Register a request, create its workspace, snapshot
//	POST /v1/patch         - Write a file into the workspace
//	POST /v1/test          - Run the test runner against the workspace
//	POST /v1/batch         - Prepare, write several files, run the tests
//	POST /v1/plan          - Store a change plan for a request
//	GET  /v1/plan/:id      - Stored change plan
//	POST /v1/merge         - Snapshot, then copy the workspace into the tree
//	POST /v1/rollback      - Restore the newest snapshot, discard the workspace
//	GET  /v1/snapshots     - List snapshots (?request_id= to filter)
//	POST /v1/restore       - Restore a chosen snapshot
//	GET  /v1/env/:id       - Environment captured at prepare
//	GET  /v1/requests/:id  - Request view and event trail
//	GET  /v1/preview/:id   - Diff of the workspace against the tree
//	GET  /v1/tools         - Tool catalog
//	POST /v1/tools/run     - Dispatch a tool
//	GET  /health           - Liveness
//	GET  /metrics          - Prometheus metrics
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", handleMetrics)

	v1 := router.Group("/v1")
	{
		v1.POST("/prepare", h.HandlePrepare)
		v1.POST("/patch", h.HandlePatch)
		v1.POST("/test", h.HandleTest)
		v1.POST("/batch", h.HandleBatch)
		v1.POST("/plan", h.HandlePlan)
		v1.GET("/plan/:id", h.HandleGetPlan)
		v1.POST("/merge", h.HandleMerge)
		v1.POST("/rollback", h.HandleRollback)
		v1.GET("/snapshots", h.HandleSnapshots)
		v1.POST("/restore", h.HandleRestore)
		v1.GET("/env/:id", h.HandleEnv)
		v1.GET("/requests/:id", h.HandleHistory)
		v1.GET("/preview/:id", h.HandlePreview)

		toolsGroup := v1.Group("/tools")
		{
			toolsGroup.GET("", h.HandleListTools)
			toolsGroup.POST("/run", h.HandleRunTool)
		}
	}
}

// NewRouter builds a gin engine with recovery, tracing, request logging
// and the builder routes.
func NewRouter(h *Handlers, serviceName string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger(logger.With("component", "http")))
	RegisterRoutes(router, h)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)))
	}
}

// handleMetrics serves the Prometheus exporter installed by telemetry.Init.
func handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "prometheus exporter not enabled", Code: "METRICS_DISABLED"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}
