// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/geoscope-ai/geoscope/pkg/sse"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts the SSE wire format (event: name\ndata: json\n\n) away
// from handlers. Upstream events are re-emitted with their payload bytes
// untouched; synthetic events (progress, error, final) are built here.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. A streaming handler may
// forward upstream events while another goroutine reports progress.
type SSEWriter interface {
	// WriteEvent re-emits one reassembled upstream event verbatim.
	WriteEvent(event sse.Event) error

	// WriteProgress writes a synthetic progress event for long-running
	// server-side work such as classification stages.
	WriteProgress(stage, message string) error

	// WriteError writes a synthetic error event. The message must already
	// be sanitized; internal details never reach the client.
	WriteError(errMsg string) error

	// WriteFinal writes the terminal event of a classification stream,
	// carrying the completed profile under "profile".
	WriteFinal(payload any) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher for immediate send
//   - mu: Mutex serializing writes, one full frame at a time
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter wraps a ResponseWriter for SSE emission.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter does not support flushing.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent re-emits one upstream event. The payload bytes pass through
// untouched so the client sees exactly what the inference backend produced.
func (w *sseWriter) WriteEvent(event sse.Event) error {
	return w.writeFrame(event.Name, event.Data)
}

// WriteProgress writes a synthetic progress event.
func (w *sseWriter) WriteProgress(stage, message string) error {
	data, err := json.Marshal(map[string]string{
		"type":    "progress",
		"stage":   stage,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return w.writeFrame("progress", data)
}

// WriteError writes a synthetic error event.
func (w *sseWriter) WriteError(errMsg string) error {
	data, err := json.Marshal(map[string]string{
		"type":    "error",
		"message": errMsg,
	})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	return w.writeFrame("error", data)
}

// WriteFinal writes the terminal event of a classification stream.
func (w *sseWriter) WriteFinal(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal final event: %w", err)
	}
	return w.writeFrame("final", data)
}

// writeFrame emits one complete SSE frame under the mutex and flushes.
// Holding the lock for the whole frame keeps concurrent writers from
// interleaving mid-frame.
func (w *sseWriter) writeFrame(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if name != "" {
		if _, err := fmt.Fprintf(w.writer, "event: %s\n", name); err != nil {
			return fmt.Errorf("write event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
