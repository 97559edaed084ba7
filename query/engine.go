// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package query

import (
	"time"

	"github.com/grailbio/bitfunnel/bytecode"
	"github.com/grailbio/bitfunnel/compile"
	"github.com/grailbio/bitfunnel/diag"
	"github.com/grailbio/bitfunnel/interpreter"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/grailbio/bitfunnel/shard"
)

// Instrumentation is the per-query record spec.md section 6 names: a
// succeeded flag, row/match/quadword/cache-line counts, and the three
// pipeline-stage timers. ParseTime is seeded when Engine.Parse is called and
// only finalized once Engine.Run begins, mirroring spec.md section 4.7's
// "finishes instrumentation's parsing timer" happening at the start of run,
// not at the end of parse.
type Instrumentation struct {
	Succeeded      bool
	RowCount       int
	MatchCount     int
	QuadwordCount  int
	CacheLineCount int
	ParseTime      time.Duration
	PlanTime       time.Duration
	MatchTime      time.Duration

	parseStart time.Time
}

// Engine ties the grammar, the planning pipeline (rewrite, compile,
// bytecode), and the interpreter together (spec.md section 4.7). One Engine
// is shared read-only across a worker Pool's workers; everything mutable is
// owned per query, per spec.md section 5's "single-threaded per query"
// resource policy: the match-tree arena and results buffer by the caller,
// and each dedupe buffer by the interpreter Run creates for one shard.
type Engine struct {
	Terms   rowid.TermTable
	Streams map[string]rowid.StreamID
	Diag    *diag.Stream

	// RewriteConfig bounds Or-expansion during rewriting (spec.md section
	// 4.1). RecordCacheLines enables the interpreter's optional cache-line
	// recorder (spec.md section 9) for every query this Engine runs.
	RewriteConfig    rewrite.Config
	RecordCacheLines bool
}

// New creates an Engine with spec.md's default rewrite bounds and a
// diagnostic stream that discards everything until EnableDiagnostic is
// called.
func New(terms rowid.TermTable, streams map[string]rowid.StreamID) *Engine {
	return &Engine{
		Terms:         terms,
		Streams:       streams,
		Diag:          diag.NewStream(nil),
		RewriteConfig: rewrite.DefaultConfig(),
	}
}

// EnableDiagnostic turns on a keyword-prefix filter on the engine's
// diagnostic stream (spec.md section 4.7).
func (e *Engine) EnableDiagnostic(keyword string) { e.Diag.Enable(keyword) }

// DisableDiagnostic turns a keyword-prefix filter back off.
func (e *Engine) DisableDiagnostic(keyword string) { e.Diag.Disable(keyword) }

// Parse resets mt's arena (spec.md section 4.7's "resets the match-tree
// arena") and parses text against the grammar into it, starting the returned
// Instrumentation's parsing timer.
func (e *Engine) Parse(mt *matchtree.Arena, text string) (matchtree.Handle, *Instrumentation, error) {
	mt.Reset()
	instr := &Instrumentation{parseStart: time.Now()}
	h, err := Parse(mt, text, e.Streams)
	if err != nil {
		return matchtree.NilHandle, instr, err
	}
	e.Diag.Logf("query/parse", "parsed %q", text)
	return h, instr, nil
}

// Run plans, compiles, seals bytecode, and interprets root against every
// shard in shards, draining matches into out (spec.md section 4.7). epoch's
// reader token is held for the whole matching phase, exactly long enough
// that the ingestor cannot recycle any slice a still-running interpreter
// might read.
func (e *Engine) Run(mt *matchtree.Arena, root matchtree.Handle, instr *Instrumentation, shards []shard.Shard, epoch *shard.Epoch, out *results.Buffer) error {
	instr.ParseTime = time.Since(instr.parseStart)

	planStart := time.Now()
	rw, rh, err := rewrite.Rewrite(mt, root, e.Terms, e.RewriteConfig)
	if err != nil {
		return err
	}
	plan, err := compile.Compile(rw, rh)
	if err != nil {
		return err
	}

	out.Reset()
	token := epoch.Acquire()
	defer token.Release()

	if plan.Constant != nil {
		instr.PlanTime = time.Since(planStart)
		if *plan.Constant {
			e.matchEveryDocument(shards, out)
		}
		instr.MatchCount = out.Len()
		instr.Succeeded = true
		return nil
	}

	prog, err := bytecode.Generate(plan)
	if err != nil {
		return err
	}
	instr.RowCount = len(prog.Rows)
	instr.PlanTime = time.Since(planStart)
	e.Diag.Logf("query/plan", "rank=%d rows=%d instructions=%d", prog.Rank, len(prog.Rows), len(prog.Code))

	matchStart := time.Now()
	for _, sh := range shards {
		in := interpreter.New(prog, e.RecordCacheLines)
		stats, err := in.Run(sh, out, interpreter.AlwaysContinue{})
		if err != nil {
			return err
		}
		instr.QuadwordCount += stats.QuadwordCount
		instr.CacheLineCount += stats.CacheLineCount
	}
	instr.MatchTime = time.Since(matchStart)
	instr.MatchCount = out.Len()
	instr.Succeeded = true
	return nil
}

// matchEveryDocument handles a plan that folded to the constant "true"
// (spec.md section 8's "a query with an all-ones row matches all
// documents" boundary case): there is no bytecode to run, so every document
// the shards actually carry is reported directly.
func (e *Engine) matchEveryDocument(shards []shard.Shard, out *results.Buffer) {
	for _, sh := range shards {
		for _, sl := range sh.Slices() {
			for i := range sl.Descriptor.DocIDs {
				out.Add(results.Entry{Slice: sl, Index: i})
			}
		}
	}
}
