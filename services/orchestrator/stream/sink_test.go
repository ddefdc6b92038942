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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoscope-ai/geoscope/pkg/sse"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// capturingStore records every write the sink issues.
type capturingStore struct {
	mu       sync.Mutex
	messages []*datatypes.Message
	upserts  []capturedUpsert
	fail     bool
}

type capturedUpsert struct {
	sessionID string
	fields    map[string]interface{}
}

func (c *capturingStore) SaveMessage(_ context.Context, msg *datatypes.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("store down")
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capturingStore) UpsertSessionFields(_ context.Context, sessionID string, fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("store down")
	}
	c.upserts = append(c.upserts, capturedUpsert{sessionID: sessionID, fields: fields})
	return nil
}

func (c *capturingStore) upsertsFor(field string) []capturedUpsert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedUpsert
	for _, u := range c.upserts {
		if _, ok := u.fields[field]; ok {
			out = append(out, u)
		}
	}
	return out
}

func rawEvent(s string) sse.Event {
	return sse.Event{Data: json.RawMessage(s)}
}

// TestSink_PersistenceOnError verifies the partial response accumulated
// before a transport error is written before the error is propagated.
func TestSink_PersistenceOnError(t *testing.T) {
	store := &capturingStore{}
	sink := NewSink(store, "sess-1", nil)
	ctx := context.Background()

	sink.Observe(ctx, rawEvent(`{"type":"token","message":"ab"}`))
	sink.Observe(ctx, rawEvent(`{"type":"token","message":"cd"}`))
	sink.Observe(ctx, rawEvent(`{"type":"error","message":"upstream died"}`))

	state := sink.Finish(ctx, true)
	assert.Equal(t, StateErrored, state)

	require.Len(t, store.messages, 1)
	msg := store.messages[0]
	assert.Equal(t, "abcd", msg.Content)
	assert.Equal(t, datatypes.RoleAI, msg.Role)
	assert.Equal(t, "sess-1", msg.SessionID)
}

// TestSink_CompletionPersistsTextAndTools covers the normal terminal path.
func TestSink_CompletionPersistsTextAndTools(t *testing.T) {
	store := &capturingStore{}
	sink := NewSink(store, "sess-2", nil)
	ctx := context.Background()

	sink.Observe(ctx, rawEvent(`{"type":"token","message":"The SWAT model"}`))
	sink.Observe(ctx, rawEvent(`{"type":"tool_result","tool":"search_relevant_models","data":{"status":"ok"}}`))
	sink.Observe(ctx, rawEvent(`{"type":"token","message":" fits best."}`))

	state := sink.Finish(ctx, false)
	assert.Equal(t, StateCompleted, state)

	require.Len(t, store.messages, 1)
	msg := store.messages[0]
	assert.Equal(t, "The SWAT model fits best.", msg.Content)
	assert.Equal(t, datatypes.MsgTypeTool, msg.MsgType)
	require.Len(t, msg.Tools, 1)
	assert.Contains(t, string(msg.Tools[0]), "search_relevant_models")
}

// TestSink_SideChannelUpsertedTwice verifies the opportunistic pre-save plus
// the terminal re-upsert.
func TestSink_SideChannelUpsertedTwice(t *testing.T) {
	store := &capturingStore{}
	sink := NewSink(store, "sess-3", nil)
	ctx := context.Background()

	sink.Observe(ctx, rawEvent(`{"type":"model_details_end","data":{"name":"SWAT","description":"hydrology","workflow":[]}}`))
	sink.Finish(ctx, false)

	upserts := store.upsertsFor("recommended_model")
	require.Len(t, upserts, 2)
	for _, u := range upserts {
		assert.Equal(t, "sess-3", u.sessionID)
		assert.Contains(t, string(u.fields["recommended_model"].(json.RawMessage)), "SWAT")
	}
}

// TestSink_EmptyStreamWritesNothing verifies heartbeat-only streams persist
// no message.
func TestSink_EmptyStreamWritesNothing(t *testing.T) {
	store := &capturingStore{}
	sink := NewSink(store, "sess-4", nil)
	ctx := context.Background()

	sink.Observe(ctx, rawEvent(`{"type":"heartbeat","message":"keep-alive"}`))
	sink.Observe(ctx, rawEvent(`{"type":"status","message":"thinking"}`))
	sink.Observe(ctx, rawEvent(`{"type":"some_future_type","payload":1}`))

	state := sink.Finish(ctx, false)
	assert.Equal(t, StateCompleted, state)
	assert.Empty(t, store.messages)
	assert.Empty(t, store.upserts)
}

// TestSink_StoreFailuresSwallowed verifies persistence faults never escape
// the sink.
func TestSink_StoreFailuresSwallowed(t *testing.T) {
	store := &capturingStore{fail: true}
	sink := NewSink(store, "sess-5", nil)
	ctx := context.Background()

	sink.Observe(ctx, rawEvent(`{"type":"token","message":"hello"}`))
	sink.Observe(ctx, rawEvent(`{"type":"model_details_end","data":{"name":"X"}}`))

	assert.NotPanics(t, func() {
		state := sink.Finish(ctx, false)
		assert.Equal(t, StateCompleted, state)
	})
}

// TestSink_StateMachine verifies Idle -> Streaming -> terminal transitions.
func TestSink_StateMachine(t *testing.T) {
	store := &capturingStore{}
	sink := NewSink(store, "sess-6", nil)
	ctx := context.Background()

	assert.Equal(t, StateIdle, sink.State())
	sink.Observe(ctx, rawEvent(`{"type":"token","message":"x"}`))
	assert.Equal(t, StateStreaming, sink.State())

	// An in-band error payload forces the errored terminal even when the
	// channel closes normally afterwards.
	sink.Observe(ctx, rawEvent(`{"type":"error","message":"broken"}`))
	assert.Equal(t, StateErrored, sink.Finish(ctx, false))
}
