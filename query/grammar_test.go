// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package query_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/query"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnigram(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat", nil)
	require.NoError(t, err)
	n := mt.Node(h)
	assert.Equal(t, matchtree.KindUnigram, n.Kind)
	assert.Equal(t, "cat", n.Term.Text)
	assert.Equal(t, query.DefaultStream, n.Term.Stream)
}

func TestParseJuxtapositionIsAnd(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat dog", nil)
	require.NoError(t, err)
	assert.Equal(t, matchtree.KindAnd, mt.Node(h).Kind)
}

func TestParseExplicitAnd(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat & dog", nil)
	require.NoError(t, err)
	assert.Equal(t, matchtree.KindAnd, mt.Node(h).Kind)
}

func TestParseOr(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat|dog", nil)
	require.NoError(t, err)
	assert.Equal(t, matchtree.KindOr, mt.Node(h).Kind)
}

func TestParseNotOfLeafFlipsInvertedInPlace(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "-cat", nil)
	require.NoError(t, err)
	n := mt.Node(h)
	assert.Equal(t, matchtree.KindUnigram, n.Kind, "Not(leaf) canonicalises onto the leaf's Inverted flag")
	assert.True(t, n.Inverted)
}

func TestParseNotOfAndAllocatesGenuineNotNode(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "-(cat & dog)", nil)
	require.NoError(t, err)
	assert.Equal(t, matchtree.KindNot, mt.Node(h).Kind)
}

func TestParseParenGrouping(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat & (dog|bird)", nil)
	require.NoError(t, err)
	root := mt.Node(h)
	require.Equal(t, matchtree.KindAnd, root.Kind)
	assert.Equal(t, matchtree.KindOr, mt.Node(root.Right).Kind)
}

func TestParseQuotedPhrase(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, `"quick brown fox"`, nil)
	require.NoError(t, err)
	n := mt.Node(h)
	require.Equal(t, matchtree.KindPhrase, n.Kind)
	assert.Len(t, n.Terms, 3)
	assert.Equal(t, "quick", n.Terms[0].Text)
	assert.Equal(t, "fox", n.Terms[2].Text)
}

func TestParsePhraseWithFewerThanTwoTokensFails(t *testing.T) {
	mt := matchtree.NewArena()
	_, err := query.Parse(mt, `"solo"`, nil)
	assert.Error(t, err)
}

func TestParseStreamPrefix(t *testing.T) {
	mt := matchtree.NewArena()
	streams := map[string]rowid.StreamID{"title": 1}
	h, err := query.Parse(mt, "title:cat", streams)
	require.NoError(t, err)
	n := mt.Node(h)
	assert.Equal(t, rowid.StreamID(1), n.Term.Stream)
}

func TestParseUnknownStreamFails(t *testing.T) {
	mt := matchtree.NewArena()
	_, err := query.Parse(mt, "bogus:cat", map[string]rowid.StreamID{"title": 1})
	assert.Error(t, err)
}

func TestParseUnbalancedParenFails(t *testing.T) {
	mt := matchtree.NewArena()
	_, err := query.Parse(mt, "(cat & dog", nil)
	assert.Error(t, err)
}

func TestParseTrailingInputFails(t *testing.T) {
	mt := matchtree.NewArena()
	_, err := query.Parse(mt, "cat)", nil)
	assert.Error(t, err)
}

func TestParseEscapedToken(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, `cat\:fish`, nil)
	require.NoError(t, err)
	assert.Equal(t, "cat:fish", mt.Node(h).Term.Text)
}

func TestParseOperatorPrecedenceAndBindsTighterThanOr(t *testing.T) {
	mt := matchtree.NewArena()
	h, err := query.Parse(mt, "cat dog|bird", nil)
	require.NoError(t, err)
	root := mt.Node(h)
	require.Equal(t, matchtree.KindOr, root.Kind)
	assert.Equal(t, matchtree.KindAnd, mt.Node(root.Left).Kind)
}
