// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dedupe_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/dedupe"
	"github.com/stretchr/testify/assert"
)

func TestAddMatchThenDrainEmitsEverySetBit(t *testing.T) {
	var b dedupe.Buffer
	b.AddMatch(0, 0b101)

	var got []int
	b.Drain(func(bit int) { got = append(got, bit) })

	assert.Equal(t, []int{0, 2}, got)
	assert.True(t, b.Empty())
}

func TestDrainOrdersBitsAscendingAcrossSlots(t *testing.T) {
	var b dedupe.Buffer
	b.AddMatch(3, 1<<5)
	b.AddMatch(1, 1<<1)
	b.AddMatch(0, 1<<0)

	var got []int
	b.Drain(func(bit int) { got = append(got, bit) })

	assert.Equal(t, []int{0, 1, 5}, got)
}

func TestAddMatchWithZeroBitsIsANoop(t *testing.T) {
	var b dedupe.Buffer
	b.AddMatch(5, 0)
	assert.True(t, b.Empty())
}

// TestOrNodeDedupeProducesExactlyOneMatchPerBit verifies spec.md section 8's
// "Or-node dedupe" property: two Report sites that both fire at the same
// offset, with overlapping document bits, must not cause the same document
// to surface twice. Every slot addresses the same 64 documents of the
// current offset (just from a different Report site), so Drain's OR-merge
// naturally collapses an overlapping bit to a single callback.
func TestOrNodeDedupeProducesExactlyOneMatchPerBit(t *testing.T) {
	var b dedupe.Buffer
	// Two independently-compiled Report sites (e.g. the two branches of an
	// expanded Or) both fire at the same offset; their accumulators overlap
	// on document bit 2.
	b.AddMatch(0, 0b0110) // bits 1, 2
	b.AddMatch(1, 0b0100) // bit 2 again, nothing new

	var got []int
	b.Drain(func(bit int) { got = append(got, bit) })

	// Bit 2 was set by both slots, but is reported exactly once.
	assert.Equal(t, []int{1, 2}, got)
}

func TestDrainOnEmptyBufferCallsNothing(t *testing.T) {
	var b dedupe.Buffer
	called := false
	b.Drain(func(int) { called = true })
	assert.False(t, called)
}

func TestBufferIsReusableAcrossIterations(t *testing.T) {
	var b dedupe.Buffer
	b.AddMatch(2, 1)
	var first []int
	b.Drain(func(bit int) { first = append(first, bit) })
	assert.Equal(t, []int{0}, first)

	// A second iteration's matches must not see any residue from the first.
	b.AddMatch(2, 2)
	var second []int
	b.Drain(func(bit int) { second = append(second, bit) })
	assert.Equal(t, []int{1}, second)
}
