// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package results implements the interpreter's results buffer (spec.md
// section 6, "ResultsBuffer entry"): a fixed-capacity accumulator of
// (slice, doc-index) matches the interpreter drains its dedupe buffer into
// at the end of every iteration. Grounded on the teacher's preference for a
// bounded, preallocated slice over an unbounded append — the same shape as
// `circular.Bitmap`'s fixed-size backing store, sized once at construction.
package results

import "github.com/grailbio/bitfunnel/shard"

// Entry is one reported match: the slice it was found in and the document's
// index within that slice.
type Entry struct {
	Slice *shard.Slice
	Index int
}

// Buffer accumulates Entry values up to a fixed capacity. Once full, further
// matches are silently dropped (spec.md section 4.6, "Failure": "Out-of-
// space on the results buffer silently drops further matches; the caller
// sees a truncated count") — the caller can distinguish a truncated run via
// Dropped.
type Buffer struct {
	entries []Entry
	dropped int
}

// NewBuffer creates a Buffer that holds at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{entries: make([]Entry, 0, capacity)}
}

// Add appends an entry, silently counting it as dropped if the buffer is
// already at capacity.
func (b *Buffer) Add(e Entry) {
	if len(b.entries) >= cap(b.entries) {
		b.dropped++
		return
	}
	b.entries = append(b.entries, e)
}

// Entries returns every match recorded so far, in the order Add received
// them.
func (b *Buffer) Entries() []Entry {
	return b.entries
}

// Len returns the number of entries currently held (never exceeds the
// buffer's capacity).
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Dropped returns how many matches were discarded after the buffer filled.
func (b *Buffer) Dropped() int {
	return b.dropped
}

// Reset clears the buffer for reuse by the next query, keeping its
// underlying storage (spec.md section 9: "explicit per-query contexts"; the
// query engine façade pools one Buffer per worker rather than allocating a
// fresh one per query).
func (b *Buffer) Reset() {
	b.entries = b.entries[:0]
	b.dropped = 0
}
