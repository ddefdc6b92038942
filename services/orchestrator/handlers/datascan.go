// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geoscope-ai/geoscope/services/orchestrator/classifier"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
	"github.com/geoscope-ai/geoscope/services/orchestrator/observability"
)

// =============================================================================
// Request Type
// =============================================================================

// DataScanRequest triggers classification of an already-uploaded dataset.
type DataScanRequest struct {
	FilePath  string `json:"filePath" binding:"required"`
	SessionID string `json:"sessionId" binding:"omitempty,max=128"`
}

// =============================================================================
// Handler
// =============================================================================

// DataScanHandler streams dataset classification over SSE.
type DataScanHandler struct {
	classifier *classifier.Classifier
	store      *datatypes.WeaviateStore
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewDataScanHandler wires the classification endpoint.
//
// store may be nil (lightweight mode); the profile is then returned to the
// client without being cached on any session.
func NewDataScanHandler(
	cls *classifier.Classifier,
	store *datatypes.WeaviateStore,
	tracer trace.Tracer,
	logger *slog.Logger,
) *DataScanHandler {
	if cls == nil {
		panic("NewDataScanHandler: nil classifier")
	}
	if tracer == nil {
		panic("NewDataScanHandler: nil tracer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataScanHandler{classifier: cls, store: store, tracer: tracer, logger: logger}
}

// HandleAnalyze serves POST /v1/datascan/analyze.
//
// # Description
//
// Validates the request and the target path, then switches to SSE and runs
// the classification pipeline, emitting a progress event per stage and a
// terminal "final" event carrying the completed profile. Input faults fail
// with a non-2xx status before any SSE bytes are written; pipeline faults
// after that point surface as in-band error events.
func (h *DataScanHandler) HandleAnalyze(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointDataScan

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAnalyze")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	form := string(datatypes.FormUnknown)
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
			m.RecordClassification(form, time.Since(startTime).Seconds(), success)
		}
	}()

	var req DataScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "filePath is required"})
		return
	}

	// Input fault before streaming: the dataset must exist on disk.
	if _, err := os.Stat(req.FilePath); err != nil {
		span.SetStatus(codes.Error, "dataset not found")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset path not found"})
		return
	}

	span.SetAttributes(
		attribute.String("datascan.file_path", req.FilePath),
		attribute.String("session.id", req.SessionID),
	)

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.SetStatus(codes.Error, "streaming unsupported")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	progress := func(stage, message string) {
		if err := writer.WriteProgress(stage, message); err != nil {
			h.logger.Warn("failed to write progress event", "stage", stage, "error", err)
		}
	}

	profile, err := h.classifier.ClassifyWithProgress(ctx, req.FilePath, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		h.logger.Error("classification failed", "filePath", req.FilePath, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeClassification)
		}
		_ = writer.WriteError("dataset classification failed")
		return
	}

	form = string(profile.Form)
	span.SetAttributes(attribute.String("datascan.form", form))

	h.cacheProfile(ctx, req.SessionID, profile)

	if err := writer.WriteFinal(gin.H{"type": "final", "profile": profile}); err != nil {
		h.logger.Warn("failed to write final event", "profileId", profile.ID, "error", err)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "classification completed")
}

// cacheProfile stores the profile on the session record and as a data
// message. Best effort on both writes; the client already holds the profile.
func (h *DataScanHandler) cacheProfile(ctx context.Context, sessionID string, profile *datatypes.DataSemanticProfile) {
	if h.store == nil || sessionID == "" {
		return
	}

	// Detach from the request so a disconnect cannot abort the writes.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := h.store.AttachProfile(persistCtx, sessionID, profile); err != nil {
		h.logger.Error("failed to cache profile on session",
			"sessionId", sessionID, "profileId", profile.ID, "error", err)
	}
	if err := h.store.SaveMessage(persistCtx, &datatypes.Message{
		SessionID: sessionID,
		Role:      datatypes.RoleAI,
		Content:   fmt.Sprintf("Dataset classified as %s", profile.Form),
		MsgType:   datatypes.MsgTypeData,
		Profile:   profile,
	}); err != nil {
		h.logger.Error("failed to persist classification message",
			"sessionId", sessionID, "profileId", profile.ID, "error", err)
	}
}
