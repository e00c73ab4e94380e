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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/AleutianAI/AleutianNova/services/builder/tools"
)

// Handlers exposes a Service over HTTP.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates the HTTP handlers for svc.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger.With("component", "http")}
}

// HandlePrepare handles POST /v1/prepare.
//
// Response:
//
//	200 OK: PrepareResponse
//	400 Bad Request: malformed body or request id
//	404 Not Found: integrated root missing
func (h *Handlers) HandlePrepare(c *gin.Context) {
	var req PrepareRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.Prepare(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "prepare", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePatch handles POST /v1/patch.
func (h *Handlers) HandlePatch(c *gin.Context) {
	var req PatchRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.ApplyPatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "patch", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleTest handles POST /v1/test.
//
// A failing test run is 200 with ok=false. A timed-out run is 504 and
// still carries the partial output.
func (h *Handlers) HandleTest(c *gin.Context) {
	var req RequestRef
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.RunTests(c.Request.Context(), req.RequestID)
	if err != nil {
		if resp != nil && errors.Is(err, ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, resp)
			return
		}
		h.fail(c, "test", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBatch handles POST /v1/batch.
//
// Response:
//
//	200 OK: BatchResponse, tests passed or failed
//	400 Bad Request: malformed body or no changes
//	403 Forbidden: a change path escapes the workspace
//	504 Gateway Timeout: BatchResponse with the partial test output
func (h *Handlers) HandleBatch(c *gin.Context) {
	var req BatchRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.ApplyBatch(c.Request.Context(), req)
	if err != nil {
		if resp != nil && resp.Tests != nil && errors.Is(err, ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, resp)
			return
		}
		h.fail(c, "batch", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePlan handles POST /v1/plan.
func (h *Handlers) HandlePlan(c *gin.Context) {
	var req PlanRequest
	if !h.bind(c, &req) {
		return
	}
	plan, err := h.svc.Plan(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "plan", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// HandleGetPlan handles GET /v1/plan/:id.
func (h *Handlers) HandleGetPlan(c *gin.Context) {
	plan, err := h.svc.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "plan", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// HandleMerge handles POST /v1/merge.
func (h *Handlers) HandleMerge(c *gin.Context) {
	var req MergeRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.Merge(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "merge", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRollback handles POST /v1/rollback.
//
// Both a restored rollback and a workspace-only rollback are 200; the
// status field tells them apart.
func (h *Handlers) HandleRollback(c *gin.Context) {
	var req RequestRef
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.Rollback(c.Request.Context(), req.RequestID)
	if err != nil {
		h.fail(c, "rollback", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSnapshots handles GET /v1/snapshots?request_id=.
func (h *Handlers) HandleSnapshots(c *gin.Context) {
	id := c.Query("request_id")
	snaps, err := h.svc.ListSnapshots(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "snapshots", err)
		return
	}
	c.JSON(http.StatusOK, SnapshotsResponse{RequestID: id, Snapshots: snaps})
}

// HandleRestore handles POST /v1/restore.
func (h *Handlers) HandleRestore(c *gin.Context) {
	var req RestoreRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.RestoreSpecific(c.Request.Context(), req.RequestID, req.SnapshotID)
	if err != nil {
		h.fail(c, "restore", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleEnv handles GET /v1/env/:id.
func (h *Handlers) HandleEnv(c *gin.Context) {
	id := c.Param("id")
	doc, err := h.svc.Env(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "env", err)
		return
	}
	c.JSON(http.StatusOK, EnvResponse{RequestID: id, Env: doc})
}

// HandleHistory handles GET /v1/requests/:id.
func (h *Handlers) HandleHistory(c *gin.Context) {
	resp, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePreview handles GET /v1/preview/:id. With ?format=diff the raw
// unified diff is returned as text.
func (h *Handlers) HandlePreview(c *gin.Context) {
	resp, err := h.svc.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "preview", err)
		return
	}
	if c.Query("format") == "diff" {
		c.Data(http.StatusOK, "text/x-diff; charset=utf-8", []byte(resp.Diff))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListTools handles GET /v1/tools.
func (h *Handlers) HandleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.svc.Tools()})
}

// HandleRunTool handles POST /v1/tools/run.
//
// Response:
//
//	200 OK: tools.Result, successful or failed
//	202 Accepted: tools.Result asking for confirmation; nothing ran
//	400 Bad Request: malformed body
func (h *Handlers) HandleRunTool(c *gin.Context) {
	var inv tools.Invocation
	if err := c.ShouldBindJSON(&inv); err != nil || inv.Tool == "" {
		h.logger.Warn("invalid tool invocation", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "body must name a tool", Code: "INVALID_REQUEST"})
		return
	}
	res := h.svc.RunTool(c.Request.Context(), inv)
	status := http.StatusOK
	if res.NeedsConfirmation() {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		IntegratedRoot: h.svc.IntegratedRoot(),
		Tools:          len(h.svc.Tools()),
	})
}

// bind decodes a JSON body. An empty body decodes as the zero value and is
// then validated as such.
func (h *Handlers) bind(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if errors.Is(err, io.EOF) {
		err = binding.Validator.ValidateStruct(dst)
	}
	if err == nil {
		return true
	}
	h.logger.Warn("invalid request body", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
	return false
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.logger.Warn(op+" rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// StatusFor maps a Service error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrIntegrity):
		return http.StatusConflict, "INTEGRITY_ERROR"
	case errors.Is(err, ErrPathEscape):
		return http.StatusForbidden, "PATH_ESCAPE"
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, ErrConfirmationRequired):
		return http.StatusAccepted, "CONFIRMATION_REQUIRED"
	default:
		return http.StatusInternalServerError, "EXECUTION_FAILURE"
	}
}
