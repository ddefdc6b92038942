// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// =============================================================================
// Proxied Chat Streaming
// =============================================================================
//
// This file implements the SSE chat endpoint. The handler opens a proxied
// stream against the inference backend, re-emits every reassembled event to
// the client, and feeds the same events to a persistence sink that saves the
// accumulated assistant turn when the stream terminates, on success and on
// error alike.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
	"github.com/geoscope-ai/geoscope/services/orchestrator/observability"
	"github.com/geoscope-ai/geoscope/services/orchestrator/stream"
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler defines the contract for proxied SSE chat endpoints.
type StreamingChatHandler interface {
	// HandleChatStream proxies GET /v1/chat/stream to the inference backend.
	//
	// # Description
	//
	// Validates the query parameters, opens the upstream SSE stream, and
	// forwards every event to the client while a sink accumulates the
	// assistant turn. Validation faults fail with a 4xx before any SSE
	// bytes are written; faults after that point surface as in-band error
	// events. Client disconnect cancels the upstream request.
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements StreamingChatHandler.
//
// # Fields
//
//   - proxy: Opens upstream SSE streams with heartbeat injection.
//   - store: Session persistence; nil disables the sink entirely
//     (lightweight mode without a reachable Weaviate instance).
//   - tracer: OpenTelemetry tracer for request spans.
//   - logger: Structured logger.
type streamingChatHandler struct {
	proxy  *stream.Proxy
	store  *datatypes.WeaviateStore
	tracer trace.Tracer
	logger *slog.Logger
}

var _ StreamingChatHandler = (*streamingChatHandler)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler wires the chat streaming handler.
//
// # Inputs
//
//   - proxy: Required. Panics if nil.
//   - store: Optional. When nil, streams are proxied without persistence.
//   - tracer: Required. Panics if nil.
//   - logger: Optional, defaults to slog.Default().
func NewStreamingChatHandler(
	proxy *stream.Proxy,
	store *datatypes.WeaviateStore,
	tracer trace.Tracer,
	logger *slog.Logger,
) StreamingChatHandler {
	if proxy == nil {
		panic("NewStreamingChatHandler: nil proxy")
	}
	if tracer == nil {
		panic("NewStreamingChatHandler: nil tracer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &streamingChatHandler{
		proxy:  proxy,
		store:  store,
		tracer: tracer,
		logger: logger,
	}
}

// =============================================================================
// Handler
// =============================================================================

func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Bind and validate query parameters.
	var req datatypes.StreamRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request parameters"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		h.logger.Error("Stream request validation failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("request.query_bytes", len(req.Query)),
	)

	// Step 2: Persist the user message before streaming, best effort.
	var sink *stream.Sink
	if h.store != nil && req.SessionID != "" {
		if err := h.store.SaveMessage(ctx, &datatypes.Message{
			SessionID: req.SessionID,
			Role:      datatypes.RoleUser,
			Content:   req.Query,
			MsgType:   datatypes.MsgTypeText,
		}); err != nil {
			h.logger.Error("failed to persist user message",
				"sessionId", req.SessionID, "error", err)
		}
		sink = stream.NewSink(h.store, req.SessionID, h.logger)
	}

	// Step 3: Switch the response to SSE. Faults from here on are in-band.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.SetStatus(codes.Error, "streaming unsupported")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// Step 4: Open the upstream stream and forward until it terminates.
	// The request context doubles as the cancellation signal: a client
	// disconnect tears down the upstream connection through it.
	events := h.proxy.Open(ctx, req.Query, req.SessionID)

	errored := false
	for ev := range events {
		if err := writer.WriteEvent(ev); err != nil {
			h.logger.Warn("client write failed, draining stream",
				"sessionId", req.SessionID, "error", err)
		}

		payload, decodeErr := datatypes.DecodePayload(ev.Data)
		if decodeErr != nil {
			continue
		}
		switch payload.Type {
		case datatypes.EventError:
			errored = true
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeUpstream)
			}
		case datatypes.EventHeartbeat:
			if m := observability.DefaultMetrics; m != nil {
				m.RecordHeartbeat(endpoint)
			}
		}
		if sink != nil {
			sink.Observe(ctx, ev)
		}
	}

	disconnected := ctx.Err() != nil
	if disconnected {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}
		h.logger.Info("client disconnected mid-stream", "sessionId", req.SessionID)
	}

	// Step 5: Terminal persistence. Identical on completion and on error;
	// partial output survives a broken upstream connection. The terminal
	// writes use a fresh context so a disconnect cannot abort them.
	if sink != nil {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		finalState := sink.Finish(persistCtx, errored || disconnected)
		span.SetAttributes(attribute.String("stream.final_state", finalState.String()))
	}

	success = !errored && !disconnected
	if success {
		span.SetStatus(codes.Ok, "stream completed")
	}
}
