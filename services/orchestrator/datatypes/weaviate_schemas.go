// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func GetSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Session",
		Description: "A chat session with aggregate message metadata and cached analysis results.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Client-facing session identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Human readable session title.",
				Tokenization: "word",
			},
			{
				Name:            "message_count",
				DataType:        []string{"int"},
				Description:     "Number of messages recorded for this session.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "last_message",
				DataType:    []string{"text"},
				Description: "Preview of the most recent message (first 100 chars).",
			},
			{
				Name:        "recommended_model",
				DataType:    []string{"text"},
				Description: "JSON blob with the recommended model name, description and workflow.",
			},
			{
				Name:        "model_search",
				DataType:    []string{"text"},
				Description: "JSON blob with the latest model search results for this session.",
			},
			{
				Name:        "index_search",
				DataType:    []string{"text"},
				Description: "JSON blob with the latest index search results for this session.",
			},
			{
				Name:        "profile",
				DataType:    []string{"text"},
				Description: "JSON blob of the cached dataset semantic profile.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of session creation.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "updated_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of the last write to this session.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Message",
		Description: "A single chat message belonging to a session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the owning session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Message author role: user, AI or system.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The message text.",
				Tokenization: "word",
			},
			{
				Name:        "tools",
				DataType:    []string{"text"},
				Description: "JSON array of tool result payloads attached to this message.",
			},
			{
				Name:            "msg_type",
				DataType:        []string{"text"},
				Description:     "Message kind: text, tool or data.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "profile",
				DataType:    []string{"text"},
				Description: "JSON blob of an embedded dataset semantic profile, if any.",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of message creation.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetSessionSchema,
		GetMessageSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
