// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genealogy

import (
	"bytes"
	"strings"
)

// Frame delimiters for the two streaming wire styles.
const (
	// FrameDelimiter separates SSE-style frames.
	FrameDelimiter = "\n\n"

	// LineDelimiter separates line-style feeds. Because every frame in
	// the wire format is a single line, a line decoder also handles
	// SSE-style input: the blank line between frames decodes to an
	// empty frame and is skipped.
	LineDelimiter = "\n"
)

// FrameHandler receives complete frames in arrival order.
type FrameHandler func(frame string)

// StreamDecoder reconstitutes discrete frames from an unbounded
// sequence of byte chunks whose boundaries are not aligned to frame
// boundaries.
//
// Chunks accumulate in an internal byte buffer and are only converted
// to strings once a complete frame has been delimited, so a multi-byte
// UTF-8 sequence split across chunks is reassembled before any decode
// takes place. The delimiter itself is ASCII and cannot occur inside a
// multi-byte sequence, so frame boundaries never land mid-rune.
//
// Guarantees:
//
//   - Frames are emitted in the exact order their delimiters appear.
//   - A frame is never emitted before its trailing delimiter arrives,
//     and never split across two handler invocations.
//   - A dangling partial frame is discarded on Close, not emitted: a
//     frame without a terminator is not a valid event.
//
// Thread Safety: StreamDecoder is NOT safe for concurrent use. Feed it
// from a single goroutine, as the session reader does.
type StreamDecoder struct {
	delim   []byte
	buf     bytes.Buffer
	onFrame FrameHandler
	closed  bool
}

// NewStreamDecoder creates a decoder emitting frames to the handler.
//
// Inputs:
//
//	delimiter - FrameDelimiter or LineDelimiter.
//	onFrame - Handler invoked once per complete non-empty frame.
func NewStreamDecoder(delimiter string, onFrame FrameHandler) *StreamDecoder {
	if delimiter == "" {
		delimiter = LineDelimiter
	}
	return &StreamDecoder{
		delim:   []byte(delimiter),
		onFrame: onFrame,
	}
}

// Write feeds one transport chunk into the decoder.
//
// Description:
//
//	Appends the chunk to the internal buffer, then emits every complete
//	frame leftmost-first. Each emitted frame is trimmed of surrounding
//	whitespace; frames that trim to "" (SSE heartbeats, doubled
//	delimiters) are dropped. The partial remainder stays buffered for
//	the next chunk.
//
// Inputs:
//
//	chunk - Raw bytes of any size, including zero-length and splits
//	mid-delimiter or mid-rune.
func (d *StreamDecoder) Write(chunk []byte) {
	if d.closed || len(chunk) == 0 {
		return
	}

	d.buf.Write(chunk)

	for {
		idx := bytes.Index(d.buf.Bytes(), d.delim)
		if idx < 0 {
			return
		}

		frame := strings.TrimSpace(string(d.buf.Next(idx)))
		d.buf.Next(len(d.delim))

		if frame != "" && d.onFrame != nil {
			d.onFrame(frame)
		}
	}
}

// WriteString feeds a text chunk. Equivalent to Write([]byte(chunk)).
func (d *StreamDecoder) WriteString(chunk string) {
	d.Write([]byte(chunk))
}

// Close marks the legitimate end of the stream and discards any
// buffered partial frame. Subsequent writes are ignored.
func (d *StreamDecoder) Close() {
	d.closed = true
	d.buf.Reset()
}

// Buffered returns the number of bytes held for the next chunk.
func (d *StreamDecoder) Buffered() int {
	return d.buf.Len()
}
