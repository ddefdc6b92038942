// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the tagged union for tool result payloads observed on
// the stream. Payloads are decoded once at the boundary into a concrete type
// per tool name; business logic never indexes into untyped maps.
package datatypes

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Tool Name Vocabulary
// =============================================================================

// Tool names emitted by the inference backend's agent toolset.
const (
	ToolSearchIndices = "search_relevant_indices"
	ToolSearchModels  = "search_relevant_models"
	ToolModelDetails  = "get_model_details"
)

// =============================================================================
// Tagged Union
// =============================================================================

// ToolPayload is one decoded tool result from the stream.
//
// Concrete types: IndexSearchPayload, ModelSearchPayload,
// ModelDetailsPayload, GenericToolPayload (fallback for tools this service
// does not act on).
type ToolPayload interface {
	// ToolName returns the emitting tool's name tag.
	ToolName() string
}

// IndexSearchPayload carries results of the knowledge index search tool.
type IndexSearchPayload struct {
	Tool    string `json:"tool"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Status  string          `json:"status"`
		Indices json.RawMessage `json:"indices,omitempty"`
	} `json:"data"`
}

func (p *IndexSearchPayload) ToolName() string { return p.Tool }

// ModelSearchPayload carries results of the model catalog search tool.
type ModelSearchPayload struct {
	Tool    string `json:"tool"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Status string          `json:"status"`
		Models json.RawMessage `json:"models,omitempty"`
	} `json:"data"`
}

func (p *ModelSearchPayload) ToolName() string { return p.Tool }

// ModelDetailsPayload carries the detail lookup for a recommended model.
type ModelDetailsPayload struct {
	Tool    string `json:"tool"`
	Message string `json:"message,omitempty"`
	Data    struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Workflow    json.RawMessage `json:"workflow,omitempty"`
	} `json:"data"`
}

func (p *ModelDetailsPayload) ToolName() string { return p.Tool }

// GenericToolPayload is the fallback for tool names without a dedicated
// decoder. The data blob is preserved verbatim.
type GenericToolPayload struct {
	Tool    string          `json:"tool"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (p *GenericToolPayload) ToolName() string { return p.Tool }

// Compile-time interface checks.
var (
	_ ToolPayload = (*IndexSearchPayload)(nil)
	_ ToolPayload = (*ModelSearchPayload)(nil)
	_ ToolPayload = (*ModelDetailsPayload)(nil)
	_ ToolPayload = (*GenericToolPayload)(nil)
)

// DecodeToolPayload decodes a raw stream payload into the union member for
// its tool name.
//
// Payloads without a "tool" tag are rejected; unknown tool names decode into
// GenericToolPayload so new backend tools flow through untouched.
func DecodeToolPayload(raw json.RawMessage) (ToolPayload, error) {
	var tag struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("failed to read tool tag: %w", err)
	}
	if tag.Tool == "" {
		return nil, fmt.Errorf("payload has no tool tag")
	}

	var target ToolPayload
	switch tag.Tool {
	case ToolSearchIndices:
		target = &IndexSearchPayload{}
	case ToolSearchModels:
		target = &ModelSearchPayload{}
	case ToolModelDetails:
		target = &ModelDetailsPayload{}
	default:
		target = &GenericToolPayload{}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode %q tool payload: %w", tag.Tool, err)
	}
	return target, nil
}
