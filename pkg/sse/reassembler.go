// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sse reassembles Server-Sent Events frames from raw byte streams.
//
// Network transports deliver SSE bytes in arbitrary chunks: a single read may
// contain several complete frames, half a frame, or even half of a frame
// terminator. The Reassembler buffers chunks and emits complete frames only,
// so downstream consumers never observe a partially parsed event.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	event: status\n
//	data: {"type":"status","message":"thinking"}\n
//	\n
//
// Frames are terminated by a blank line; both "\n\n" and "\r\n\r\n" are
// accepted, and a single stream may mix the two.
//
// Single Responsibility:
//
//	The Reassembler ONLY reassembles and decodes frames. It performs no I/O,
//	no heartbeating, and no persistence. This separation keeps the chunk
//	boundary handling independently testable.
package sse

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// =============================================================================
// Event
// =============================================================================

// Event is one complete SSE frame with a decoded JSON payload.
//
// Events are immutable and emitted in the exact order their frames appeared
// in the byte stream.
type Event struct {
	// Name is the value of the frame's last "event:" line, or "" when the
	// frame carried no event line.
	Name string

	// Data is the frame's JSON payload: all "data:" lines joined with "\n"
	// and verified to be valid JSON.
	Data json.RawMessage
}

// =============================================================================
// Frame Reassembler
// =============================================================================

// FrameReassembler converts arbitrarily chunked SSE bytes into Events.
//
// Thread Safety:
//
//	Implementations are NOT safe for concurrent use. Each upstream
//	connection owns exactly one reassembler.
type FrameReassembler interface {
	// Feed appends a chunk to the internal buffer and returns every complete
	// event that became available, in stream order. A chunk that completes
	// no frame returns an empty slice.
	Feed(chunk []byte) []Event

	// Pending reports how many buffered bytes are waiting for a terminator.
	Pending() int

	// Reset discards any buffered partial frame.
	Reset()
}

// Reassembler is the default FrameReassembler implementation.
type Reassembler struct {
	buf    []byte
	logger *slog.Logger
}

// Compile-time interface check.
var _ FrameReassembler = (*Reassembler)(nil)

// NewReassembler creates a reassembler with an empty buffer.
//
// Parameters:
//   - logger: Destination for malformed-frame warnings. Nil falls back to
//     slog.Default().
func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{logger: logger}
}

var (
	sepLF   = []byte("\n\n")
	sepCRLF = []byte("\r\n\r\n")
)

// Feed appends chunk and drains every complete frame from the buffer.
//
// The terminator search always runs over the full accumulated buffer, not
// just the new chunk, so a terminator split across chunk boundaries is found
// as soon as its final byte arrives. Frames whose payload is not valid JSON
// are logged and dropped without disturbing subsequent frames.
func (r *Reassembler) Feed(chunk []byte) []Event {
	r.buf = append(r.buf, chunk...)

	var events []Event
	for {
		// Earliest terminator wins; a stream may mix "\n\n" and "\r\n\r\n".
		sep := bytes.Index(r.buf, sepLF)
		if crlf := bytes.Index(r.buf, sepCRLF); sep == -1 || (crlf != -1 && crlf < sep) {
			sep = crlf
		}
		if sep < 0 {
			return events
		}

		block := r.buf[:sep]
		sepLen := 2
		if bytes.HasPrefix(r.buf[sep:], []byte("\r\n")) {
			sepLen = 4
		}
		r.buf = r.buf[sep+sepLen:]

		if ev, ok := r.parseBlock(block); ok {
			events = append(events, ev)
		}
	}
}

// Pending reports the number of buffered bytes not yet part of a complete frame.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset discards buffered bytes. Call between connections when reusing a
// reassembler.
func (r *Reassembler) Reset() {
	r.buf = nil
}

// parseBlock decodes one terminated frame.
//
// Line handling follows the SSE spec subset the inference backend emits:
//   - "event:" lines set the event name, last one wins
//   - "data:" lines accumulate in order and join with "\n"
//   - anything else (comments, keepalives, blank lines) is ignored
//
// A block with no data lines produces no event. A block whose joined data is
// not valid JSON is logged and dropped.
func (r *Reassembler) parseBlock(block []byte) (Event, bool) {
	var name string
	var dataLines []string

	for _, rawLine := range strings.Split(string(block), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if len(dataLines) == 0 {
		return Event{}, false
	}

	payload := strings.Join(dataLines, "\n")
	if !json.Valid([]byte(payload)) {
		r.logger.Warn("dropping SSE frame with malformed JSON payload",
			"event", name, "payload_prefix", truncate(payload, 120))
		return Event{}, false
	}
	return Event{Name: name, Data: json.RawMessage(payload)}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
