// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build !linux

package shard

// allocWords is the portable fallback for platforms without Linux's
// transparent-hugepage madvise: an ordinary zeroed allocation.
func allocWords(n int) []uint64 {
	return make([]uint64, n)
}
