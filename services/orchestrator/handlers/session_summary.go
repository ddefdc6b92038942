// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/geoscope-ai/geoscope/services/llm"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// summaryMessageLimit bounds how much history feeds the title prompt.
const summaryMessageLimit = 10

// maxTitleLen bounds the stored session title.
const maxTitleLen = 80

// SummarizeSession generates a short session title from recent history and
// stores it on the session record.
func SummarizeSession(client *weaviate.Client, store *datatypes.WeaviateStore, model llm.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("sessionId")
		ctx := c.Request.Context()

		history, err := recentMessages(c, client, session)
		if err != nil {
			slog.Error("failed to load history for summary", "sessionId", session, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session history"})
			return
		}
		if history == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "session has no messages to summarize"})
			return
		}

		prompt := fmt.Sprintf(
			"Write a short title (at most 8 words, no quotes) for this conversation:\n\n%s",
			history)
		maxTokens := 40
		title, err := model.Generate(ctx, prompt, llm.GenerationParams{MaxTokens: &maxTokens})
		if err != nil {
			slog.Error("title generation failed", "sessionId", session, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "title generation failed"})
			return
		}

		title = strings.Trim(strings.TrimSpace(title), `"`)
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}

		if err := store.UpsertSessionFields(ctx, session, map[string]interface{}{
			"title": title,
		}); err != nil {
			slog.Error("failed to store session title", "sessionId", session, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session title"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": session, "title": title})
	}
}

// recentMessages flattens the last few messages into a prompt-ready block.
func recentMessages(c *gin.Context, client *weaviate.Client, session string) (string, error) {
	whereFilter := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(session)

	result, err := client.GraphQL().Get().
		WithClassName("Message").
		WithFields(graphql.Field{Name: "role"}, graphql.Field{Name: "content"}).
		WithWhere(whereFilter).
		WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Desc}).
		WithLimit(summaryMessageLimit).
		Do(c.Request.Context())
	if err != nil {
		return "", err
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return "", nil
	}
	rows, ok := get["Message"].([]interface{})
	if !ok {
		return "", nil
	}

	// Newest-first from the query; rebuild oldest-first for the prompt.
	var lines []string
	for i := len(rows) - 1; i >= 0; i-- {
		row, ok := rows[i].(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := row["role"].(string)
		content, _ := row["content"].(string)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, content))
	}
	return strings.Join(lines, "\n"), nil
}
