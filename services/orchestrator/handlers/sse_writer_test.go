// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoscope-ai/geoscope/pkg/sse"
)

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestSSEWriter_EventPassthrough(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	payload := json.RawMessage(`{"type":"token","message":"hi","extra":42}`)
	require.NoError(t, writer.WriteEvent(sse.Event{Name: "token", Data: payload}))

	// Payload bytes must survive byte for byte, unknown fields included.
	assert.Equal(t, "event: token\ndata: {\"type\":\"token\",\"message\":\"hi\",\"extra\":42}\n\n", w.Body.String())
}

func TestSSEWriter_NoEventName(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(sse.Event{Data: json.RawMessage(`{"type":"status"}`)}))
	assert.Equal(t, "data: {\"type\":\"status\"}\n\n", w.Body.String())
}

func TestSSEWriter_SyntheticEvents(t *testing.T) {
	t.Run("progress", func(t *testing.T) {
		w := httptest.NewRecorder()
		writer, err := NewSSEWriter(w)
		require.NoError(t, err)

		require.NoError(t, writer.WriteProgress("inspection", "refining candidates"))
		events := parseSSEEvents(t, w.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, "progress", events[0].Event)
		assert.Contains(t, events[0].Data, `"stage":"inspection"`)
	})

	t.Run("error", func(t *testing.T) {
		w := httptest.NewRecorder()
		writer, err := NewSSEWriter(w)
		require.NoError(t, err)

		require.NoError(t, writer.WriteError("dataset classification failed"))
		events := parseSSEEvents(t, w.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, "error", events[0].Event)
	})

	t.Run("final", func(t *testing.T) {
		w := httptest.NewRecorder()
		writer, err := NewSSEWriter(w)
		require.NoError(t, err)

		require.NoError(t, writer.WriteFinal(gin.H{"type": "final", "profile": gin.H{"id": "data_1_abc123"}}))
		events := parseSSEEvents(t, w.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, "final", events[0].Event)
		assert.Contains(t, events[0].Data, "data_1_abc123")
	})
}

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}
