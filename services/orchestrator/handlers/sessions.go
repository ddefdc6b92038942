// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// CreateSession starts a new conversation session.
func CreateSession(store *datatypes.WeaviateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title string `json:"title"`
		}
		// Empty body is fine; the store falls back to a default title.
		_ = c.ShouldBindJSON(&req)

		session, err := store.CreateSession(c.Request.Context(), req.Title)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

// ListSessions returns every session's metadata.
func ListSessions(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list sessions")
		fields := []graphql.Field{
			{Name: "session_id"},
			{Name: "title"},
			{Name: "message_count"},
			{Name: "last_message"},
			{Name: "created_at"},
			{Name: "updated_at"},
		}
		result, err := client.GraphQL().Get().
			WithClassName("Session").
			WithFields(fields...).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("failed to query Weaviate for sessions", "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to query Weaviate for sessions"})
			return
		}
		c.JSON(http.StatusOK, result.Data)
	}
}

// GetSessionHistory returns a session's messages in chronological order.
func GetSessionHistory(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		slog.Info("Received request for session history", "sessionId", session)

		whereFilter := filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(session)

		fields := []graphql.Field{
			{Name: "session_id"},
			{Name: "role"},
			{Name: "content"},
			{Name: "tools"},
			{Name: "msg_type"},
			{Name: "profile"},
			{Name: "timestamp"},
		}
		result, err := client.GraphQL().Get().
			WithClassName("Message").
			WithFields(fields...).
			WithWhere(whereFilter).
			WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Asc}).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("failed to query Weaviate for session history",
				"sessionId", session, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to query session history"})
			return
		}
		c.JSON(http.StatusOK, result.Data)
	}
}

// DeleteSession removes a session and all of its messages.
func DeleteSession(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", session)

		whereFilter := filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(session)

		// Messages first; a failure here still lets the session record go.
		_, err := client.Batch().ObjectsBatchDeleter().
			WithClassName("Message").
			WithOutput("minimal").
			WithWhere(whereFilter).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("failed to delete messages from the Weaviate DB", "error", err)
		}

		_, err = client.Batch().ObjectsBatchDeleter().
			WithClassName("Session").
			WithOutput("minimal").
			WithWhere(whereFilter).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("failed to delete session object from the Weaviate DB", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fully delete session"})
			return
		}

		slog.Info("Successfully deleted all data for session", "sessionId", session)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": session})
	}
}
