// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build linux

package shard

import (
	"unsafe"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

// hugePageSize is the size of a Linux transparent hugepage.
const hugePageSize = 2 << 20

// allocWords reserves a zero-filled, hugepage-advised region for n 64-bit
// words, grounded directly on the teacher's fusion.kmerIndex hash table
// allocation (fusion/kmer_index.go): Ubuntu only activates transparent
// hugepages for madvised regions, so a slice's row-bit table — large,
// long-lived, and scanned word by word on every query its rows participate
// in — gets the same treatment the teacher gives its kmer hash table,
// bypassing Go's normal allocator. As with the teacher's table, the region
// is never explicitly unmapped: a MemShard's slices live for the shard's
// entire lifetime.
func allocWords(n int) []uint64 {
	if n == 0 {
		return nil
	}
	data, err := unix.Mmap(-1, 0, n*8+hugePageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Panicf("shard: mmap %d words: %v", n, err)
	}
	if err := unix.Madvise(data, unix.MADV_HUGEPAGE); err != nil {
		log.Panicf("shard: madvise hugepage: %v", err)
	}
	// Round up to a hugePageSize boundary, as the teacher's kmerIndex does;
	// it is unclear whether this actually matters, but it costs nothing.
	start := (uintptr(unsafe.Pointer(&data[0]))-1)/hugePageSize + 1
	return unsafe.Slice((*uint64)(unsafe.Pointer(start*hugePageSize)), n)
}
