// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/geoscope-ai/geoscope/services/llm"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
	"github.com/geoscope-ai/geoscope/services/orchestrator/handlers"
)

func SetupRoutes(
	router *gin.Engine,
	client *weaviate.Client,
	store *datatypes.WeaviateStore,
	chatHandler handlers.StreamingChatHandler,
	scanHandler *handlers.DataScanHandler,
	llmClient llm.Client,
) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/chat/stream", chatHandler.HandleChatStream)
		v1.POST("/datascan/analyze", scanHandler.HandleAnalyze)

		// Session administration routes need a reachable Weaviate instance;
		// in lightweight mode the service streams without persistence.
		if client != nil && store != nil {
			sessions := v1.Group("/sessions")
			{
				sessions.POST("", handlers.CreateSession(store))
				sessions.GET("", handlers.ListSessions(client))
				sessions.GET("/:sessionId/history", handlers.GetSessionHistory(client))
				sessions.DELETE("/:sessionId", handlers.DeleteSession(client))
				if llmClient != nil {
					sessions.POST("/:sessionId/summary",
						handlers.SummarizeSession(client, store, llmClient))
				}
			}
		}
	}
}
