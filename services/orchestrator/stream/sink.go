// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/geoscope-ai/geoscope/pkg/sse"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// =============================================================================
// Store Contract
// =============================================================================

// SessionStore is the slice of the document store the sink writes through.
// All operations are idempotent single-document upserts.
type SessionStore interface {
	// SaveMessage inserts one message record and updates the owning
	// session's aggregates.
	SaveMessage(ctx context.Context, msg *datatypes.Message) error

	// UpsertSessionFields merge-updates fields on a session record, creating
	// it when absent.
	UpsertSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error
}

// Compile-time check: the Weaviate store satisfies the sink's contract.
var _ SessionStore = (*datatypes.WeaviateStore)(nil)

// =============================================================================
// Sink State Machine
// =============================================================================

// State is the sink lifecycle: Idle -> Streaming -> {Completed, Errored}.
// Both terminal states funnel through the same persistence routine.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// =============================================================================
// Sink
// =============================================================================

// Sink observes one session's stream events and guarantees that by the time
// the terminal signal has been handled, all recoverable partial state has
// been written to the store.
//
// # Description
//
// For every event the sink accumulates token text, tool result payloads and
// side-channel metadata (model recommendation, search results). Side-channel
// data is additionally upserted the moment it arrives, so a later crash
// cannot lose it; the terminal persistence pass re-upserts everything and is
// the source of truth. A stream that ends in an error persists exactly the
// same partial state as a completed one: a broken upstream connection must
// not discard AI output already generated.
//
// # Thread Safety
//
// Not safe for concurrent use. One sink serves one stream, driven by the
// single consumer of the proxy channel.
type Sink struct {
	store     SessionStore
	sessionID string
	logger    *slog.Logger

	state    State
	response strings.Builder
	tools    []json.RawMessage
	derived  map[string]json.RawMessage
}

// NewSink creates a sink for one session's stream.
// Panics if store is nil; callers without a store skip the sink entirely.
func NewSink(store SessionStore, sessionID string, logger *slog.Logger) *Sink {
	if store == nil {
		panic("NewSink: nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
		state:     StateIdle,
		derived:   make(map[string]json.RawMessage),
	}
}

// State reports the sink's lifecycle state.
func (s *Sink) State() State { return s.state }

// ResponseText returns the accumulated assistant text so far.
func (s *Sink) ResponseText() string { return s.response.String() }

// Observe folds one stream event into the accumulated state.
//
// Unrecognized payload types are ignored for forward compatibility. Payloads
// that fail envelope decoding are ignored too; the reassembler already
// guaranteed valid JSON, so this only skips non-object payloads.
func (s *Sink) Observe(ctx context.Context, ev sse.Event) {
	if s.state == StateIdle {
		s.state = StateStreaming
	}

	payload, err := datatypes.DecodePayload(ev.Data)
	if err != nil {
		s.logger.Warn("skipping undecodable stream payload", "error", err)
		return
	}

	if payload.Type == datatypes.EventError {
		s.state = StateErrored
	}

	if payload.Type == datatypes.EventToken {
		s.response.WriteString(payload.Message)
	}

	if payload.Tool != "" {
		s.recordTool(ev.Data)
	}

	if field, ok := datatypes.SideChannelField(payload.Type); ok && len(payload.Data) > 0 {
		s.derived[field] = payload.Data
		// Opportunistic pre-save; the terminal pass re-upserts this anyway.
		if err := s.store.UpsertSessionFields(ctx, s.sessionID, map[string]interface{}{
			field: payload.Data,
		}); err != nil {
			s.logger.Warn("opportunistic session upsert failed",
				"sessionId", s.sessionID, "field", field, "error", err)
		}
	}
}

// recordTool appends the full raw payload and logs its decoded identity.
func (s *Sink) recordTool(raw json.RawMessage) {
	buf := make(json.RawMessage, len(raw))
	copy(buf, raw)
	s.tools = append(s.tools, buf)

	if decoded, err := datatypes.DecodeToolPayload(raw); err == nil {
		s.logger.Info("recorded tool result",
			"sessionId", s.sessionID, "tool", decoded.ToolName())
	}
}

// Finish marks the terminal state and runs the persistence pass.
//
// errored selects the terminal state only; the persistence procedure is
// identical on both paths. Every write failure is logged and swallowed: the
// live stream has already been delivered, persistence is best effort.
func (s *Sink) Finish(ctx context.Context, errored bool) State {
	if errored || s.state == StateErrored {
		s.state = StateErrored
	} else {
		s.state = StateCompleted
	}
	s.persist(ctx)
	return s.state
}

// persist issues all terminal writes concurrently and waits for them.
func (s *Sink) persist(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)

	if s.response.Len() > 0 || len(s.tools) > 0 {
		msg := &datatypes.Message{
			SessionID: s.sessionID,
			Role:      datatypes.RoleAI,
			Content:   s.response.String(),
			Tools:     s.tools,
			MsgType:   datatypes.MsgTypeText,
		}
		if len(s.tools) > 0 {
			msg.MsgType = datatypes.MsgTypeTool
		}
		g.Go(func() error {
			if err := s.store.SaveMessage(ctx, msg); err != nil {
				s.logger.Error("failed to persist assistant message",
					"sessionId", s.sessionID, "error", err)
			}
			return nil
		})
	}

	for field, data := range s.derived {
		g.Go(func() error {
			err := s.store.UpsertSessionFields(ctx, s.sessionID, map[string]interface{}{
				field: data,
			})
			if err != nil {
				s.logger.Error("failed to persist session metadata",
					"sessionId", s.sessionID, "field", field, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}
