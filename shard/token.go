// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shard

import (
	"sync"
	"sync/atomic"
)

// Epoch is the ingestor-owned, atomic reference-counted gate that keeps a
// generation of slice buffers alive while queries are reading them
// (spec.md section 5: "Reader token"). The ingestor calls DeferRecycle for
// memory it wants to reclaim once every outstanding token from this epoch
// has been released; Epoch itself never touches slice memory, it only
// tracks when it is safe for the ingestor to do so.
type Epoch struct {
	count   int64
	pending pendingList
}

// Acquire is wait-free: it is a single atomic increment, with no lock and
// no allocation, so it never blocks an in-flight query.
func (e *Epoch) Acquire() *ReaderToken {
	atomic.AddInt64(&e.count, 1)
	return &ReaderToken{epoch: e}
}

// DeferRecycle registers f to run once the epoch's last outstanding token
// is released. If no token is currently outstanding, f runs immediately.
func (e *Epoch) DeferRecycle(f func()) {
	if atomic.LoadInt64(&e.count) == 0 {
		f()
		return
	}
	e.pending.push(f)
	// A token might have dropped to zero and drained between our count
	// check and the push; re-check and drain defensively so f is never
	// stranded.
	if atomic.LoadInt64(&e.count) == 0 {
		e.pending.drain()
	}
}

// ReaderToken pins the epoch's current generation of slice buffers for the
// duration of one query. It is acquired before the interpreter enters the
// matching loop and released on exit (spec.md section 5).
type ReaderToken struct {
	epoch    *Epoch
	released int32
}

// Release drops the token. The token that observes the epoch's refcount
// reach zero is responsible for draining the pending-recycle list. Release
// is idempotent: releasing an already-released token is a no-op.
func (t *ReaderToken) Release() {
	if !atomic.CompareAndSwapInt32(&t.released, 0, 1) {
		return
	}
	if atomic.AddInt64(&t.epoch.count, -1) == 0 {
		t.epoch.pending.drain()
	}
}

// pendingList is a mutex-guarded queue of recycle callbacks. It is the one
// lock in the reader-token protocol; it is only ever touched at epoch
// boundaries, never in a query's hot path.
type pendingList struct {
	mu  sync.Mutex
	fns []func()
}

func (p *pendingList) push(f func()) {
	p.mu.Lock()
	p.fns = append(p.fns, f)
	p.mu.Unlock()
}

func (p *pendingList) drain() {
	p.mu.Lock()
	fns := p.fns
	p.fns = nil
	p.mu.Unlock()
	for _, f := range fns {
		f()
	}
}
