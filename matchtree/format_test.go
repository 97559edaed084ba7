// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matchtree_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/stretchr/testify/require"
)

// buildTrees returns a handful of representative match trees covering each
// node variant, for the round-trip property in spec.md section 8:
// "Parse(format(tree)) equals tree for every tree variant."
func buildTrees(a *matchtree.Arena) []matchtree.Handle {
	u1 := a.Unigram(rowid.Term{Text: "p3", Stream: 0, GramSize: 1})
	u2 := a.Unigram(rowid.Term{Text: "p5", Stream: 1, GramSize: 1})
	fact := a.Fact(42)
	phrase, err := a.Phrase([]rowid.Term{
		{Text: "New", Stream: 0, GramSize: 2},
		{Text: "York", Stream: 0, GramSize: 2},
	})
	if err != nil {
		panic(err)
	}
	and := a.And(u1, u2)
	or := a.Or(u1, fact)
	notAnd := a.Not(and)
	nested := a.And(or, notAnd)
	invertedLeaf := a.Unigram(rowid.Term{Text: "p7", Stream: 0, GramSize: 1})
	invertedLeaf = a.Not(invertedLeaf)
	return []matchtree.Handle{u1, u2, fact, phrase, and, or, notAnd, nested, invertedLeaf}
}

func TestFormatParseRoundTrip(t *testing.T) {
	a := matchtree.NewArena()
	for _, h := range buildTrees(a) {
		text := matchtree.Format(a, h)

		b := matchtree.NewArena()
		parsed, err := matchtree.Parse(b, text)
		require.NoError(t, err, "parsing %q", text)

		roundTripped := matchtree.Format(b, parsed)
		require.Equal(t, text, roundTripped)
	}
}

func TestParseRejectsBadArity(t *testing.T) {
	a := matchtree.NewArena()
	_, err := matchtree.Parse(a, `AndMatch{children:[UnigramMatch{stream:0,gram:1,text:"a",inverted:false}]}`)
	require.Error(t, err)
}
