// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream proxies the inference backend's SSE stream and persists
// what flows through it.
//
// The proxy turns the upstream byte stream into a cancellable, buffered
// channel of reassembled events. Exactly one producer goroutine reads
// upstream bytes and one coordinator serializes frame emission with the
// heartbeat ticker, so heartbeats interleave only at frame boundaries and
// never mid-parse. Cancelling the request context tears everything down,
// including the upstream connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geoscope-ai/geoscope/pkg/sse"
	"github.com/geoscope-ai/geoscope/services/orchestrator/config"
	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// readChunkSize is the upstream read buffer size.
const readChunkSize = 4096

// Proxy opens proxied SSE streams against the inference backend.
//
// # Description
//
// Proxy issues the upstream GET request, feeds response bytes through a
// frame reassembler and emits complete events on a buffered channel. It
// injects synthetic heartbeat events on an interval so intermediary proxies
// do not time out idle connections, and degrades upstream transport failures
// into a single in-band error event followed by channel close.
//
// # Thread Safety
//
// A Proxy is immutable after construction and safe for concurrent use; each
// Open call owns its private goroutines and channel.
type Proxy struct {
	backendURL string
	client     *http.Client
	cfg        config.StreamConfig
	logger     *slog.Logger
}

// NewProxy wires a proxy against the configured backend.
// Panics when cfg is nil: the proxy cannot exist without explicit transport
// configuration.
func NewProxy(cfg *config.Config, logger *slog.Logger) *Proxy {
	if cfg == nil {
		panic("NewProxy: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		backendURL: strings.TrimRight(cfg.BackendURL, "/"),
		client:     cfg.HTTPClient(),
		cfg:        cfg.Stream,
		logger:     logger,
	}
}

// Open starts a proxied stream for one query.
//
// The returned channel carries every reassembled upstream event plus the
// synthetic heartbeat and error events, and is closed on terminal
// completion, terminal error or context cancellation. Errors are in-band:
// Open never fails, it emits {"type":"error"} instead.
//
// Contract: exactly one consumer reads the channel; fan-out is the
// consumer's business.
func (p *Proxy) Open(ctx context.Context, query, sessionID string) <-chan sse.Event {
	events := make(chan sse.Event, p.cfg.BufferSize)

	endpoint := fmt.Sprintf("%s/api/agent/stream?query=%s", p.backendURL, url.QueryEscape(query))
	if sessionID != "" {
		endpoint += "&sessionId=" + url.QueryEscape(sessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		p.logger.Error("failed to build upstream request", "error", err)
		events <- syntheticError(err)
		close(events)
		return events
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	go p.run(ctx, req, events)
	return events
}

// run owns the upstream connection lifecycle and the events channel.
func (p *Proxy) run(ctx context.Context, req *http.Request, events chan<- sse.Event) {
	defer close(events)

	resp, err := p.client.Do(req)
	if err != nil {
		// Connection never established: error out immediately, heartbeat
		// never starts.
		p.logger.Error("upstream connection failed", "error", err)
		p.emit(ctx, events, syntheticError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Error("upstream returned non-OK status", "status", resp.StatusCode)
		p.emit(ctx, events, syntheticError(fmt.Errorf("upstream status %d", resp.StatusCode)))
		return
	}

	reads := make(chan readResult)
	go readChunks(resp.Body, reads)

	heartbeat := time.NewTicker(p.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	reassembler := sse.NewReassembler(p.logger)
	for {
		select {
		case <-ctx.Done():
			// Client went away. The deferred Body.Close unblocks the reader.
			p.logger.Info("client disconnected, tearing down upstream stream")
			return

		case <-heartbeat.C:
			if !p.emit(ctx, events, heartbeatEvent()) {
				return
			}

		case res, ok := <-reads:
			if !ok {
				// Normal upstream end.
				return
			}
			if res.err != nil {
				p.logger.Error("upstream transport error mid-stream", "error", res.err)
				p.emit(ctx, events, syntheticError(res.err))
				return
			}
			for _, ev := range reassembler.Feed(res.chunk) {
				if !p.emit(ctx, events, ev) {
					return
				}
			}
		}
	}
}

// emit sends one event unless the consumer is gone.
func (p *Proxy) emit(ctx context.Context, events chan<- sse.Event, ev sse.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

type readResult struct {
	chunk []byte
	err   error
}

// readChunks pumps upstream bytes into the coordinator. io.EOF closes the
// channel; any other error is surfaced as a transport fault.
func readChunks(body io.Reader, reads chan<- readResult) {
	defer close(reads)
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			reads <- readResult{chunk: chunk}
		}
		if err != nil {
			if err != io.EOF {
				reads <- readResult{err: err}
			}
			return
		}
	}
}

// =============================================================================
// Synthetic Events
// =============================================================================

func heartbeatEvent() sse.Event {
	payload, _ := json.Marshal(map[string]string{
		"type":    datatypes.EventHeartbeat,
		"message": "keep-alive",
	})
	return sse.Event{Data: payload}
}

func syntheticError(err error) sse.Event {
	payload, _ := json.Marshal(map[string]string{
		"type":    datatypes.EventError,
		"message": sanitizeError(err),
	})
	return sse.Event{Data: payload}
}

// sanitizeError strips transport internals (URLs, addresses) before an error
// message goes to a client.
func sanitizeError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "inference backend is unavailable"
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return "inference backend timed out"
	case strings.Contains(msg, "http://"), strings.Contains(msg, "https://"):
		return "upstream request failed"
	default:
		return msg
	}
}
