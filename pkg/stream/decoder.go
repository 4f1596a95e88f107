// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single buffered line. A server that never
// sends a newline would otherwise grow the carry-over buffer forever.
const DefaultMaxLineBytes = 1 << 20

const defaultChunkBytes = 4096

// maxEmptyReads is how many (0, nil) reads in a row are tolerated before
// the source is declared stuck with io.ErrNoProgress.
const maxEmptyReads = 100

// ErrLineTooLong is returned when a partial line exceeds the decoder limit.
var ErrLineTooLong = errors.New("stream: line exceeds maximum length")

// =============================================================================
// Line Decoder
// =============================================================================

// LineDecoder turns a live response body into complete lines.
//
// # Description
//
// Bytes are read from the source in chunks. Any trailing partial line of
// a chunk is carried over and prepended to the next chunk before splitting
// again on '\n', so a frame whose bytes straddle two network reads (or a
// multi-byte UTF-8 rune split in half) is reassembled before it is
// converted to a string. A trailing '\r' is stripped from each line.
//
// # Outputs
//
// Next yields lines lazily. The sequence can be consumed once; there is
// no replay. At a clean end of stream any residual partial line with no
// terminator is discarded and Next returns io.EOF.
//
// # Errors
//
// A transport error stops decoding. Lines completed before the error are
// still returned first; then Next returns the transport error on every
// subsequent call. A source that keeps returning no bytes and no error
// fails with io.ErrNoProgress.
//
// # Thread Safety
//
// Not safe for concurrent use. One decoder belongs to one query's
// owning goroutine.
type LineDecoder struct {
	src       io.Reader
	chunk     []byte
	pending   []byte
	ready     []string
	err       error
	maxLine   int
	lines     int
	discarded int
	empty     int
}

// NewLineDecoder creates a decoder reading from r with default limits.
func NewLineDecoder(r io.Reader) *LineDecoder {
	return NewLineDecoderSize(r, defaultChunkBytes, DefaultMaxLineBytes)
}

// NewLineDecoderSize creates a decoder with an explicit read chunk size
// and maximum line length. Non-positive values fall back to defaults.
func NewLineDecoderSize(r io.Reader, chunkBytes, maxLineBytes int) *LineDecoder {
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineDecoder{
		src:     r,
		chunk:   make([]byte, chunkBytes),
		maxLine: maxLineBytes,
	}
}

// Next returns the next complete line without its terminator.
func (d *LineDecoder) Next() (string, error) {
	for len(d.ready) == 0 {
		if d.err != nil {
			return "", d.err
		}
		d.fill()
	}

	line := d.ready[0]
	d.ready[0] = ""
	d.ready = d.ready[1:]
	d.lines++
	return line, nil
}

// Lines reports how many complete lines have been returned so far.
func (d *LineDecoder) Lines() int {
	return d.lines
}

// Discarded reports how many bytes of an unterminated final line were
// dropped at end of stream.
func (d *LineDecoder) Discarded() int {
	return d.discarded
}

// fill performs one read from the source and splits whatever complete
// lines are now available.
func (d *LineDecoder) fill() {
	n, err := d.src.Read(d.chunk)
	if n > 0 {
		d.empty = 0
		d.pending = append(d.pending, d.chunk[:n]...)
		d.split()
	} else if err == nil {
		d.empty++
		if d.empty >= maxEmptyReads {
			d.err = io.ErrNoProgress
		}
		return
	}

	if err == nil || d.err != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		d.discarded += len(d.pending)
		d.pending = d.pending[:0]
		d.err = io.EOF
		return
	}
	d.err = err
}

func (d *LineDecoder) split() {
	start := 0
	for {
		i := bytes.IndexByte(d.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := d.pending[start : start+i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		d.ready = append(d.ready, string(line))
		start += i + 1
	}

	// Shift the carry-over to the front so the backing array is reused.
	if start > 0 {
		n := copy(d.pending, d.pending[start:])
		d.pending = d.pending[:n]
	}

	if len(d.pending) > d.maxLine {
		d.err = fmt.Errorf("%w: %d bytes without newline", ErrLineTooLong, len(d.pending))
		d.pending = d.pending[:0]
	}
}
