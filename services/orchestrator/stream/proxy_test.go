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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoscope-ai/geoscope/pkg/sse"
	"github.com/geoscope-ai/geoscope/services/orchestrator/config"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// testConfig builds a proxy config pointed at the given backend.
func testConfig(backendURL string, heartbeat time.Duration) *config.Config {
	return &config.Config{
		BackendURL: backendURL,
		Stream: config.StreamConfig{
			HeartbeatInterval: heartbeat,
			RequestTimeout:    5 * time.Second,
			BufferSize:        16,
		},
	}
}

// collect drains the channel until close or timeout.
func collect(t *testing.T, events <-chan sse.Event, timeout time.Duration) []sse.Event {
	t.Helper()
	var out []sse.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for stream close")
		}
	}
}

func eventType(t *testing.T, ev sse.Event) string {
	t.Helper()
	var p struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	return p.Type
}

// dropHeartbeats filters synthetic keep-alives out of a capture.
func dropHeartbeats(t *testing.T, events []sse.Event) []sse.Event {
	t.Helper()
	var out []sse.Event
	for _, ev := range events {
		if eventType(t, ev) != datatypes.EventHeartbeat {
			out = append(out, ev)
		}
	}
	return out
}

// TestProxy_ForwardsUpstreamEvents verifies frames pass through in order with
// query parameters forwarded.
func TestProxy_ForwardsUpstreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agent/stream", r.URL.Path)
		assert.Equal(t, "flood risk", r.URL.Query().Get("query"))
		assert.Equal(t, "sess-1", r.URL.Query().Get("sessionId"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"type\":\"token\",\"message\":\"a\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"token\",\"message\":\"b\"}\r\n\r\n"))
	}))
	defer srv.Close()

	proxy := NewProxy(testConfig(srv.URL, time.Minute), nil)
	events := dropHeartbeats(t, collect(t, proxy.Open(context.Background(), "flood risk", "sess-1"), 3*time.Second))

	require.Len(t, events, 2)
	var first, second struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &first))
	require.NoError(t, json.Unmarshal(events[1].Data, &second))
	assert.Equal(t, "a", first.Message)
	assert.Equal(t, "b", second.Message)
}

// TestProxy_HeartbeatInjection verifies keep-alives flow during idle periods.
func TestProxy_HeartbeatInjection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		time.Sleep(250 * time.Millisecond)
	}))
	defer srv.Close()

	proxy := NewProxy(testConfig(srv.URL, 50*time.Millisecond), nil)
	events := collect(t, proxy.Open(context.Background(), "q", ""), 3*time.Second)

	heartbeats := 0
	for _, ev := range events {
		if eventType(t, ev) == datatypes.EventHeartbeat {
			heartbeats++
			var p struct {
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			assert.Equal(t, "keep-alive", p.Message)
		}
	}
	assert.GreaterOrEqual(t, heartbeats, 2)
}

// TestProxy_HeartbeatNonInterference verifies a frame split across writes is
// never spliced by a heartbeat: every emitted event is complete, valid JSON.
func TestProxy_HeartbeatNonInterference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"type\":\"token\",\"mess"))
		flusher.Flush()
		time.Sleep(120 * time.Millisecond) // heartbeats fire mid-frame
		_, _ = w.Write([]byte("age\":\"whole\"}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	proxy := NewProxy(testConfig(srv.URL, 20*time.Millisecond), nil)
	events := collect(t, proxy.Open(context.Background(), "q", ""), 3*time.Second)

	tokens := dropHeartbeats(t, events)
	require.Len(t, tokens, 1)
	var p struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(tokens[0].Data, &p))
	assert.Equal(t, "whole", p.Message)
}

// TestProxy_ConnectionFailure verifies a synthetic error event and immediate
// close when the backend cannot be reached.
func TestProxy_ConnectionFailure(t *testing.T) {
	proxy := NewProxy(testConfig("http://127.0.0.1:1", time.Minute), nil)
	events := collect(t, proxy.Open(context.Background(), "q", ""), 5*time.Second)

	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventError, eventType(t, events[0]))
}

// TestProxy_NonOKStatus verifies a non-200 upstream response degrades to an
// in-band error event.
func TestProxy_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	proxy := NewProxy(testConfig(srv.URL, time.Minute), nil)
	events := collect(t, proxy.Open(context.Background(), "q", ""), 3*time.Second)

	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventError, eventType(t, events[0]))
}

// TestProxy_ClientCancelTearsDownUpstream verifies cancelling the consumer
// context closes the stream and aborts the upstream request.
func TestProxy_ClientCancelTearsDownUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(upstreamDone)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	proxy := NewProxy(testConfig(srv.URL, time.Minute), nil)
	events := proxy.Open(ctx, "q", "")

	time.Sleep(50 * time.Millisecond)
	cancel()

	collect(t, events, 3*time.Second)
	select {
	case <-upstreamDone:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream request was not torn down after client cancel")
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "inference backend is unavailable",
		sanitizeError(errors.New("dial tcp 10.0.0.5:8000: connect: connection refused")))
	assert.Equal(t, "upstream request failed",
		sanitizeError(errors.New(`Get "http://agent:8000/stream": EOF`)))
	assert.Equal(t, "short read",
		sanitizeError(errors.New("short read")))
}
