// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStreamRequest_Validate covers the query constraints.
func TestStreamRequest_Validate(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		r := StreamRequest{Query: "what raster datasets cover the Yellow River basin?", SessionID: "sess-1"}
		assert.NoError(t, r.Validate())
	})

	t.Run("session id optional", func(t *testing.T) {
		r := StreamRequest{Query: "hi"}
		assert.NoError(t, r.Validate())
	})

	t.Run("empty query rejected", func(t *testing.T) {
		r := StreamRequest{SessionID: "sess-1"}
		assert.Error(t, r.Validate())
	})

	t.Run("oversized query rejected", func(t *testing.T) {
		r := StreamRequest{Query: strings.Repeat("q", MaxQueryBytes+1)}
		assert.Error(t, r.Validate())
	})
}

// TestDecodePayload verifies envelope decoding preserves the raw data blob.
func TestDecodePayload(t *testing.T) {
	raw := json.RawMessage(`{"type":"model_details_end","data":{"name":"SWAT","description":"hydrology"},"extra":42}`)
	p, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, EventModelDetailsEnd, p.Type)
	assert.JSONEq(t, `{"name":"SWAT","description":"hydrology"}`, string(p.Data))

	_, err = DecodePayload(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestSideChannelField(t *testing.T) {
	field, ok := SideChannelField(EventModelDetailsEnd)
	require.True(t, ok)
	assert.Equal(t, "recommended_model", field)

	_, ok = SideChannelField(EventToken)
	assert.False(t, ok)

	_, ok = SideChannelField("some_future_type")
	assert.False(t, ok)
}

// TestDecodeToolPayload covers the tagged union boundary decode.
func TestDecodeToolPayload(t *testing.T) {
	t.Run("model details", func(t *testing.T) {
		raw := json.RawMessage(`{"tool":"get_model_details","data":{"name":"SWAT","description":"d"}}`)
		p, err := DecodeToolPayload(raw)
		require.NoError(t, err)
		details, ok := p.(*ModelDetailsPayload)
		require.True(t, ok)
		assert.Equal(t, "SWAT", details.Data.Name)
	})

	t.Run("unknown tool falls back to generic", func(t *testing.T) {
		raw := json.RawMessage(`{"tool":"tool_analyze_raster","data":{"band_count":3}}`)
		p, err := DecodeToolPayload(raw)
		require.NoError(t, err)
		_, ok := p.(*GenericToolPayload)
		assert.True(t, ok)
		assert.Equal(t, "tool_analyze_raster", p.ToolName())
	})

	t.Run("missing tool tag rejected", func(t *testing.T) {
		_, err := DecodeToolPayload(json.RawMessage(`{"type":"token"}`))
		assert.Error(t, err)
	})
}

// TestSessionUUID_Deterministic verifies session object IDs are stable, which
// is what makes session writes natural upserts.
func TestSessionUUID_Deterministic(t *testing.T) {
	a := SessionUUID("sess-1")
	b := SessionUUID("sess-1")
	c := SessionUUID("sess-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}
