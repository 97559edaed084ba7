// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package verify implements the match verifier (spec.md section 2, item 8):
// a ground-truth oracle, used only by tests, that evaluates a parsed match
// tree directly against a document's posting set (no row tables, no
// bytecode, no Bloom-filter false positives) and diffs the result against
// whatever the real pipeline (package query) actually reported. This is
// what spec.md section 8's "Equivalence under rewrite" property and the
// S1-S4 end-to-end scenarios are checked with.
package verify

import (
	"fmt"
	"sort"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
)

// DocumentCache is the ground-truth posting store: for each document id,
// the exact set of terms it contains. Grounded on spec.md's "iterates the
// document cache... evaluates the parsed tree against each document's
// posting set" — a flat map is all a test oracle needs, since (unlike the
// real row-table/shard machinery) it never has to support rank compression
// or false positives.
type DocumentCache struct {
	postings map[uint64]map[rowid.Term]bool
}

// NewDocumentCache returns an empty cache.
func NewDocumentCache() *DocumentCache {
	return &DocumentCache{postings: map[uint64]map[rowid.Term]bool{}}
}

// Add records that docID contains every term in terms.
func (c *DocumentCache) Add(docID uint64, terms ...rowid.Term) {
	set, ok := c.postings[docID]
	if !ok {
		set = map[rowid.Term]bool{}
		c.postings[docID] = set
	}
	for _, t := range terms {
		set[t] = true
	}
}

// DocumentIDs returns every document id the cache has postings for, sorted
// ascending.
func (c *DocumentCache) DocumentIDs() []uint64 {
	ids := make([]uint64, 0, len(c.postings))
	for id := range c.postings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Evaluate directly evaluates the match tree rooted at h against docID's
// posting set, with no row table, rank compression, or Bloom-filter
// collision involved: this is the ground truth every other evaluation path
// (rewrite, compile, bytecode, interpreter) is checked against.
func Evaluate(mt *matchtree.Arena, h matchtree.Handle, c *DocumentCache, docID uint64) bool {
	postings := c.postings[docID]
	return evaluate(mt, h, postings)
}

func evaluate(mt *matchtree.Arena, h matchtree.Handle, postings map[rowid.Term]bool) bool {
	n := mt.Node(h)
	switch n.Kind {
	case matchtree.KindUnigram:
		return postings[n.Term] != n.Inverted
	case matchtree.KindPhrase:
		allPresent := true
		for _, t := range n.Terms {
			if !postings[t] {
				allPresent = false
				break
			}
		}
		return allPresent != n.Inverted
	case matchtree.KindFact:
		have := postings[factTerm(n.Fact)]
		return have != n.Inverted
	case matchtree.KindAnd:
		return evaluate(mt, n.Left, postings) && evaluate(mt, n.Right, postings)
	case matchtree.KindOr:
		return evaluate(mt, n.Left, postings) || evaluate(mt, n.Right, postings)
	case matchtree.KindNot:
		return !evaluate(mt, n.Child, postings)
	default:
		return false
	}
}

// factTerm mirrors package rewrite's own Fact-leaf term encoding
// (rewrite.FactStream, "#<id>") exactly, so a DocumentCache populated via
// Add(docID, factTerm(id)) agrees with how the real term-table-backed
// pipeline resolves the same Fact leaf.
func factTerm(id uint64) rowid.Term {
	return rowid.Term{Text: fmt.Sprintf("#%d", id), Stream: rewrite.FactStream, GramSize: 1}
}

// FactTerm exposes factTerm for callers populating a DocumentCache with
// Fact postings directly.
func FactTerm(id uint64) rowid.Term { return factTerm(id) }

// Diff is the outcome of comparing ground-truth matches (from Evaluate)
// against observed matches (the document ids package query actually
// reported): true positives, false negatives (ground truth matched but
// query didn't report it — always a bug), and false positives (query
// reported it but ground truth disagrees — tolerable only if the caller
// expects it, e.g. an intentionally approximate dedupe slot reinterpretation
// is never a source of these, but a deliberately skipped verification step
// would be).
type Diff struct {
	TruePositives  []uint64
	FalseNegatives []uint64
	FalsePositives []uint64
}

// Verify evaluates mt's tree rooted at root against every document in c,
// then diffs that ground truth against observed (the document ids actually
// reported by some other evaluation path). Since a document with no
// postings at all is implicitly a ground-truth non-match, Verify also
// checks every id in observed that c has no postings for at all — those
// can only ever be false positives, and dropping them from consideration
// would silently hide a real bug (e.g. an ad-hoc row collision reporting a
// document that was never in the index).
func Verify(mt *matchtree.Arena, root matchtree.Handle, c *DocumentCache, observed []uint64) Diff {
	observedSet := make(map[uint64]bool, len(observed))
	for _, id := range observed {
		observedSet[id] = true
	}

	seen := make(map[uint64]bool, len(c.postings)+len(observed))
	ids := c.DocumentIDs()
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range observed {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var d Diff
	for _, id := range ids {
		expected := Evaluate(mt, root, c, id)
		got := observedSet[id]
		switch {
		case expected && got:
			d.TruePositives = append(d.TruePositives, id)
		case expected && !got:
			d.FalseNegatives = append(d.FalseNegatives, id)
		case !expected && got:
			d.FalsePositives = append(d.FalsePositives, id)
		}
	}
	return d
}
