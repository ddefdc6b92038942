// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the streaming chat request type and the decoded view of
// upstream stream event payloads. For dataset profile types, see profile.go;
// for persisted records, see session.go.
package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a user query. Byte length, not
	// rune count, to bound memory on hostile input.
	MaxQueryBytes = 8 * 1024 // 8KB

	// MaxSessionIDLength is the maximum length of a client-supplied session
	// identifier.
	MaxSessionIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxquerybytes", validateMaxQueryBytes)
}

// validateMaxQueryBytes checks byte length of the query field against
// MaxQueryBytes.
func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Stream Request
// =============================================================================

// StreamRequest represents a proxied streaming chat request.
//
// # Description
//
// StreamRequest carries the user query and an optional session identifier
// that correlates the stream with a persisted session. It is bound from
// query parameters on GET /v1/chat/stream and forwarded verbatim to the
// inference backend.
//
// # Fields
//
//   - Query: Required. The user's natural language query, max 8KB.
//   - SessionID: Optional. Correlation identifier for session persistence.
//     When empty, the stream is proxied without any persistence sink.
//
// # Limitations
//
//   - Conversation memory lives behind the inference backend (keyed by the
//     session identifier); this service never replays history upstream.
type StreamRequest struct {
	Query     string `form:"query" json:"query" validate:"required,maxquerybytes"`
	SessionID string `form:"sessionId" json:"sessionId" validate:"omitempty,max=128"`
}

// Validate checks the request against its declared constraints.
func (r *StreamRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid stream request: %w", err)
	}
	return nil
}

// =============================================================================
// Stream Event Vocabulary
// =============================================================================

// Upstream payload type tags emitted by the inference backend, plus the two
// synthetic types injected by this service (EventHeartbeat, EventError can
// also originate upstream).
const (
	EventToken           = "token"
	EventStatus          = "status"
	EventProgress        = "progress"
	EventUpdate          = "update"
	EventToolCall        = "tool_call"
	EventToolResult      = "tool_result"
	EventSearchIndexEnd  = "search_index_end"
	EventSearchModelEnd  = "search_model_end"
	EventModelDetailsEnd = "model_details_end"
	EventError           = "error"
	EventFinal           = "final"
	EventHeartbeat       = "heartbeat"
)

// EventPayload is the decoded envelope of one upstream JSON payload.
//
// Only the envelope fields this service acts on are decoded; the raw payload
// travels alongside so unrecognized fields survive the proxy unchanged
// (forward compatibility).
type EventPayload struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DecodePayload parses the envelope of a raw stream payload.
func DecodePayload(raw json.RawMessage) (EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return EventPayload{}, fmt.Errorf("failed to decode stream payload envelope: %w", err)
	}
	return p, nil
}

// sessionFieldByEventType maps side-channel payload types to the session
// record field their "data" value is upserted into.
var sessionFieldByEventType = map[string]string{
	EventModelDetailsEnd: "recommended_model",
	EventSearchModelEnd:  "model_search",
	EventSearchIndexEnd:  "index_search",
}

// SideChannelField reports the session field a payload type's data belongs
// to, and whether the type is a side-channel type at all.
func SideChannelField(eventType string) (string, bool) {
	field, ok := sessionFieldByEventType[eventType]
	return field, ok
}
