// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package interpreter implements the bytecode interpreter (spec.md section
// 4.6): the execution engine that walks a shard's slice buffers one
// document-word offset at a time, running a bytecode.Program against each,
// and draining a dedupe.Buffer into a results.Buffer whenever the program
// reports a nonzero match. Grounded on the teacher's tight, allocation-free
// inner-loop style (`circular.Bitmap`'s bit-twiddling helpers never
// allocate either).
package interpreter

import (
	"math/bits"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bitfunnel/bytecode"
	"github.com/grailbio/bitfunnel/dedupe"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/shard"
)

// wordsPerCacheLine is the number of 64-bit words in one cache line (64
// bytes / 8 bytes per word), used by the optional cache-line recorder.
const wordsPerCacheLine = 8

// Stats is the per-run instrumentation the query engine façade folds into
// its own per-query record (spec.md section 4.7/9's "quadword and
// cache-line counts").
type Stats struct {
	// QuadwordCount is incremented once per row load (LoadRow or AndRow).
	QuadwordCount int
	// CacheLineCount is the number of distinct cache lines touched across
	// every row load, summed across every slice. Zero unless cache-line
	// recording was requested.
	CacheLineCount int
	// MatchCount is the number of entries Run added to the results buffer
	// (including any that results.Buffer then silently dropped for being
	// over capacity).
	MatchCount int
}

// ResultsProcessor is the early-termination protocol hook spec.md section 9
// reserves for a caller that wants to stop a query mid-scan. Run calls
// Continue once per iteration (after draining that iteration's dedupe
// buffer into results); returning false stops Run before the next offset.
// This module's own callers always pass a processor that returns true, so
// the hook is unused in practice, but is retained for spec fidelity.
type ResultsProcessor interface {
	Continue() bool
}

// AlwaysContinue is a ResultsProcessor that never asks Run to stop early.
type AlwaysContinue struct{}

// Continue always returns true.
func (AlwaysContinue) Continue() bool { return true }

// Interpreter runs one compiled Program against a Shard. An Interpreter is
// single-threaded and owns its own dedupe buffer, exactly as spec.md
// section 5 requires ("dedupe buffer... single-threaded per query and
// never shared"); callers construct one per in-flight query.
type Interpreter struct {
	prog        *bytecode.Program
	recordLines bool

	dedupe dedupe.Buffer
	stack  []uint64
}

// New creates an Interpreter for prog. recordLines enables the optional
// cache-line recorder (spec.md section 9's "cache-line recorder").
func New(prog *bytecode.Program, recordLines bool) *Interpreter {
	return &Interpreter{prog: prog, recordLines: recordLines}
}

// Run executes the program once per offset, for every slice in sh, adding
// every reported match to out. It returns an error if sh does not carry the
// row-offset mapping the program's row table needs (shard.ErrRowOffsetUnknown);
// any other failure (undefined opcode, stack underflow, malformed jump
// target, dedupe header corruption) is a programming error and panics via
// github.com/grailbio/base/log.Panicf rather than being returned, per
// spec.md section 4.6's "Failure" paragraph.
func (in *Interpreter) Run(sh shard.Shard, out *results.Buffer, proc ResultsProcessor) (Stats, error) {
	rowOffsets := make([]int, len(in.prog.Rows))
	for i, ref := range in.prog.Rows {
		off, err := sh.RowOffset(ref.Row)
		if err != nil {
			return Stats{}, err
		}
		rowOffsets[i] = off
	}

	iterationsPerSlice := sh.SliceCapacity() >> in.prog.Rank / 64
	if iterationsPerSlice <= 0 {
		iterationsPerSlice = 1
	}

	var stats Stats
outer:
	for _, sl := range sh.Slices() {
		var lineBits []uint64
		if in.recordLines {
			lineBits = make([]uint64, (len(sl.Words)/wordsPerCacheLine)/64+1)
		}
		for offset := 0; offset < iterationsPerSlice; offset++ {
			in.runOnce(sl.Words, rowOffsets, offset, &stats, lineBits)
			base := offset * 64
			in.dedupe.Drain(func(bit int) {
				out.Add(results.Entry{Slice: sl, Index: base + bit})
				stats.MatchCount++
			})
			if proc != nil && !proc.Continue() {
				if in.recordLines {
					stats.CacheLineCount += popcount(lineBits)
				}
				break outer
			}
		}
		if in.recordLines {
			stats.CacheLineCount += popcount(lineBits)
		}
	}
	return stats, nil
}

// runOnce executes the program once against words at the given offset,
// recording any Report firings into in.dedupe.
func (in *Interpreter) runOnce(words []uint64, rowOffsets []int, offset int, stats *Stats, lineBits []uint64) {
	code := in.prog.Code
	ip := 0
	var acc uint64
	var zero bool
	in.stack = in.stack[:0]

	loadWord := func(r, delta int) uint64 {
		idx := rowOffsets[r] + (offset >> uint(delta))
		stats.QuadwordCount++
		if idx < 0 || idx >= len(words) {
			log.Panicf("interpreter: row %d offset %d addresses word %d, out of range [0, %d)", r, offset, idx, len(words))
		}
		if in.recordLines {
			markCacheLine(lineBits, idx)
		}
		return words[idx]
	}

	for {
		if ip < 0 || ip >= len(code) {
			log.Panicf("interpreter: instruction pointer %d out of range [0, %d)", ip, len(code))
		}
		instr := code[ip]
		switch instr.Opcode() {
		case bytecode.OpLoadRow:
			w := loadWord(instr.Operand(), int(instr.Delta()))
			if instr.Inverted() {
				w = ^w
			}
			acc = w
			zero = acc == 0
			ip++

		case bytecode.OpAndRow:
			w := loadWord(instr.Operand(), int(instr.Delta()))
			if instr.Inverted() {
				w = ^w
			}
			acc &= w
			zero = acc == 0
			ip++

		case bytecode.OpLeftShiftOffset:
			offset <<= uint(instr.Operand())
			ip++

		case bytecode.OpRightShiftOffset:
			offset >>= uint(instr.Operand())
			ip++

		case bytecode.OpIncrementOffset:
			offset++
			ip++

		case bytecode.OpPush:
			in.stack = append(in.stack, acc)
			ip++

		case bytecode.OpPop:
			acc = in.pop()
			zero = acc == 0
			ip++

		case bytecode.OpAndStack:
			acc &= in.pop()
			zero = acc == 0
			ip++

		case bytecode.OpOrStack:
			acc |= in.pop()
			zero = acc == 0
			ip++

		case bytecode.OpNot:
			acc = ^acc
			zero = acc == 0
			ip++

		case bytecode.OpUpdateFlags:
			// The accumulator is the implicit top of the value stack (it
			// holds the most recent result that hasn't been pushed yet), so
			// "value_stack.top()" (spec.md section 4.6) is acc itself.
			zero = acc == 0
			ip++

		case bytecode.OpReport:
			if acc != 0 {
				in.dedupe.AddMatch(instr.Operand(), acc)
			}
			ip++

		case bytecode.OpJz:
			if zero {
				ip = instr.Operand()
			} else {
				ip++
			}

		case bytecode.OpJnz:
			if !zero {
				ip = instr.Operand()
			} else {
				ip++
			}

		case bytecode.OpJmp:
			ip = instr.Operand()

		case bytecode.OpEnd:
			return

		case bytecode.OpConstant, bytecode.OpCall, bytecode.OpReturn:
			// Declared for spec fidelity, never emitted by this module's
			// generator (see bytecode.Generate's doc comments): encountering
			// one means the program was built some other way, or bytecode
			// generation itself is broken.
			log.Panicf("interpreter: unsupported opcode %v encountered at ip %d", instr.Opcode(), ip)

		default:
			log.Panicf("interpreter: undefined opcode %v at ip %d", instr.Opcode(), ip)
		}
	}
}

func (in *Interpreter) pop() uint64 {
	if len(in.stack) == 0 {
		log.Panicf("interpreter: value stack underflow")
	}
	top := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return top
}

// markCacheLine sets the bit in lineBits corresponding to the cache line
// containing word index wordIdx.
func markCacheLine(lineBits []uint64, wordIdx int) {
	line := wordIdx / wordsPerCacheLine
	word, bit := line/64, uint(line%64)
	if word >= len(lineBits) {
		return
	}
	lineBits[word] |= uint64(1) << bit
}

// popcount sums the set bits across lineBits.
func popcount(lineBits []uint64) int {
	total := 0
	for _, w := range lineBits {
		total += bits.OnesCount64(w)
	}
	return total
}
