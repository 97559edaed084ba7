// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package query

import (
	"runtime"
	"sync"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/shard"
)

// Job is one query submitted to a Pool: the query text, the shards to
// search, and the epoch whose reader token must be held for the duration of
// the search (spec.md section 5).
type Job struct {
	Text   string
	Shards []shard.Shard
	Epoch  *shard.Epoch
}

// Result is a completed Job's outcome. Matches is only meaningful when Err
// is nil and Instrumentation.Succeeded is true.
type Result struct {
	Job             Job
	Matches         []results.Entry
	Instrumentation Instrumentation
	Err             error
}

// Pool distributes queries across a fixed-size worker pool (spec.md section
// 5: "Multi-query parallelism is achieved by distributing queries across a
// fixed-size thread pool; each worker holds its own match-tree allocator,
// dedupe buffer, and results buffer"). Grounded on the teacher's
// channel-of-work-items plus per-worker-goroutine idiom
// (markduplicates.Mark's shardChannel fan-out); the interpreter's own
// dedupe buffer is owned per Interpreter instance (package interpreter),
// so each worker need only own its own match-tree arena and results buffer.
type Pool struct {
	engine *Engine
	jobs   chan poolJob
	wg     sync.WaitGroup
}

type poolJob struct {
	job Job
	out chan<- Result
}

// NewPool starts workers goroutines (runtime.NumCPU() if workers <= 0) each
// processing jobs submitted via Submit against engine. Close must be called
// once no more jobs will be submitted.
func NewPool(engine *Engine, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{engine: engine, jobs: make(chan poolJob)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	mt := matchtree.NewArena()
	out := results.NewBuffer(4096)
	for pj := range p.jobs {
		mt.Reset()
		res := p.runOne(mt, out, pj.job)
		pj.out <- res
	}
}

func (p *Pool) runOne(mt *matchtree.Arena, out *results.Buffer, job Job) Result {
	h, instr, err := p.engine.Parse(mt, job.Text)
	if err != nil {
		return Result{Job: job, Instrumentation: *instr, Err: err}
	}
	if err := p.engine.Run(mt, h, instr, job.Shards, job.Epoch, out); err != nil {
		return Result{Job: job, Instrumentation: *instr, Err: err}
	}
	matches := append([]results.Entry(nil), out.Entries()...)
	return Result{Job: job, Matches: matches, Instrumentation: *instr}
}

// Submit enqueues job and returns a channel that receives exactly one
// Result once some worker has processed it.
func (p *Pool) Submit(job Job) <-chan Result {
	out := make(chan Result, 1)
	p.jobs <- poolJob{job: job, out: out}
	return out
}

// Close stops accepting new jobs and blocks until every in-flight job has
// been processed by its worker.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
