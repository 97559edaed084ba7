// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matchtree_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotOfLeafCanonicalises(t *testing.T) {
	a := matchtree.NewArena()
	u := a.Unigram(rowid.Term{Text: "p7", Stream: 0, GramSize: 1})
	n := a.Not(u)
	require.Equal(t, u, n, "Not(leaf) must return the leaf itself")
	assert.True(t, a.Node(u).Inverted)
}

func TestDoubleNegationCollapses(t *testing.T) {
	a := matchtree.NewArena()
	u1 := a.Unigram(rowid.Term{Text: "a", Stream: 0, GramSize: 1})
	u2 := a.Unigram(rowid.Term{Text: "b", Stream: 0, GramSize: 1})
	and := a.And(u1, u2)
	not1 := a.Not(and)
	require.NotEqual(t, and, not1)
	require.Equal(t, matchtree.KindNot, a.Node(not1).Kind)

	not2 := a.Not(not1)
	assert.Equal(t, and, not2, "Not(Not(x)) must collapse to x")
}

func TestPhraseRequiresTwoTokens(t *testing.T) {
	a := matchtree.NewArena()
	_, err := a.Phrase([]rowid.Term{{Text: "only"}})
	assert.ErrorIs(t, err, matchtree.ErrPhraseTooShort)
}

func TestValidateRejectsInvalidArity(t *testing.T) {
	a := matchtree.NewArena()
	u := a.Unigram(rowid.Term{Text: "a"})
	bad := &matchtree.Node{Kind: matchtree.KindAnd, Left: u, Right: matchtree.NilHandle}
	// Construct the invalid node directly (bypassing Arena.And) to exercise
	// Validate against input an external parser might produce.
	h := injectNode(a, bad)
	err := matchtree.Validate(a, h)
	assert.ErrorIs(t, err, matchtree.ErrInvalidArity)
}

// injectNode appends n to a's backing storage via the same path Arena.And
// uses, for tests that need to construct deliberately-malformed trees.
func injectNode(a *matchtree.Arena, n *matchtree.Node) matchtree.Handle {
	l := a.And(n.Left, n.Left)
	got := a.Node(l)
	got.Right = matchtree.NilHandle
	return l
}
