// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll runs one byte sequence through a fresh reassembler using the given
// chunk sizes (cycled), collecting every emitted event.
func feedAll(t *testing.T, input []byte, chunkSizes ...int) []Event {
	t.Helper()
	r := NewReassembler(nil)
	if len(chunkSizes) == 0 {
		return r.Feed(input)
	}
	var events []Event
	i, c := 0, 0
	for i < len(input) {
		n := chunkSizes[c%len(chunkSizes)]
		c++
		end := i + n
		if end > len(input) {
			end = len(input)
		}
		events = append(events, r.Feed(input[i:end])...)
		i = end
	}
	return events
}

func payloadType(t *testing.T, ev Event) string {
	t.Helper()
	var p struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	return p.Type
}

// TestReassembler_SingleFrame verifies basic event and data line handling.
func TestReassembler_SingleFrame(t *testing.T) {
	t.Run("event and data lines produce one event", func(t *testing.T) {
		events := feedAll(t, []byte("event: status\ndata: {\"type\":\"status\",\"message\":\"ok\"}\n\n"))
		require.Len(t, events, 1)
		assert.Equal(t, "status", events[0].Name)
		assert.Equal(t, "status", payloadType(t, events[0]))
	})

	t.Run("frame without event line has empty name", func(t *testing.T) {
		events := feedAll(t, []byte("data: {\"type\":\"token\",\"message\":\"hi\"}\n\n"))
		require.Len(t, events, 1)
		assert.Empty(t, events[0].Name)
	})

	t.Run("last event line wins", func(t *testing.T) {
		events := feedAll(t, []byte("event: first\nevent: second\ndata: {}\n\n"))
		require.Len(t, events, 1)
		assert.Equal(t, "second", events[0].Name)
	})

	t.Run("multi-line data joins with newline", func(t *testing.T) {
		events := feedAll(t, []byte("data: [1,\ndata: 2]\n\n"))
		require.Len(t, events, 1)
		var arr []int
		require.NoError(t, json.Unmarshal(events[0].Data, &arr))
		assert.Equal(t, []int{1, 2}, arr)
	})

	t.Run("no data lines produce no event", func(t *testing.T) {
		events := feedAll(t, []byte(": keepalive comment\n\n"))
		assert.Empty(t, events)
	})
}

// TestReassembler_ChunkSplitIdempotence verifies that the emitted event
// sequence does not depend on where the transport split the bytes, including
// splits inside a frame terminator.
func TestReassembler_ChunkSplitIdempotence(t *testing.T) {
	input := []byte("event: a\ndata: {\"type\":\"token\",\"message\":\"x\"}\n\n" +
		"data: {\"type\":\"token\",\"message\":\"y\"}\r\n\r\n" +
		"event: done\ndata: {\"type\":\"final\"}\n\n")

	whole := feedAll(t, input)
	require.Len(t, whole, 3)

	for size := 1; size <= len(input); size++ {
		got := feedAll(t, input, size)
		require.Equal(t, len(whole), len(got), "chunk size %d changed event count", size)
		for i := range whole {
			assert.Equal(t, whole[i].Name, got[i].Name, "chunk size %d event %d", size, i)
			assert.JSONEq(t, string(whole[i].Data), string(got[i].Data), "chunk size %d event %d", size, i)
		}
	}
}

// TestReassembler_MixedTerminators verifies a CRLF-terminated frame followed
// by an LF-terminated frame yields exactly two events in order.
func TestReassembler_MixedTerminators(t *testing.T) {
	input := []byte("data: {\"type\":\"token\",\"message\":\"a\"}\r\n\r\ndata: {\"type\":\"token\",\"message\":\"b\"}\n\n")
	events := feedAll(t, input)
	require.Len(t, events, 2)

	var first, second struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &first))
	require.NoError(t, json.Unmarshal(events[1].Data, &second))
	assert.Equal(t, "a", first.Message)
	assert.Equal(t, "b", second.Message)
}

// TestReassembler_MalformedFrameDropped verifies a bad JSON block is skipped
// without aborting subsequent frames.
func TestReassembler_MalformedFrameDropped(t *testing.T) {
	input := []byte("data: {bad\n\ndata: {\"type\":\"token\",\"message\":\"hi\"}\n\n")
	events := feedAll(t, input)
	require.Len(t, events, 1)

	var p struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &p))
	assert.Equal(t, "hi", p.Message)
}

// TestReassembler_MultipleFramesPerChunk verifies a single chunk is drained
// completely before waiting for more input.
func TestReassembler_MultipleFramesPerChunk(t *testing.T) {
	input := []byte("data: {\"n\":1}\n\ndata: {\"n\":2}\n\ndata: {\"n\":3}\n\n")
	r := NewReassembler(nil)
	events := r.Feed(input)
	require.Len(t, events, 3)
	assert.Zero(t, r.Pending())
}

// TestReassembler_PartialFrameBuffered verifies an incomplete frame stays
// buffered and Reset discards it.
func TestReassembler_PartialFrameBuffered(t *testing.T) {
	r := NewReassembler(nil)
	events := r.Feed([]byte("data: {\"type\":\"token\""))
	assert.Empty(t, events)
	assert.Positive(t, r.Pending())

	r.Reset()
	assert.Zero(t, r.Pending())

	// A fresh frame after Reset parses cleanly.
	events = r.Feed([]byte("data: {\"type\":\"final\"}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "final", payloadType(t, events[0]))
}
