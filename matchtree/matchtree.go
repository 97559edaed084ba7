// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package matchtree defines the input boolean match tree the query engine
// consumes: Unigram/Phrase/Fact leaves combined with And/Or/Not. Nodes live
// in a per-query Arena and are referenced by small integer Handles rather
// than pointers, per the arena-over-cyclic-pointers design used throughout
// this module (see DESIGN.md).
package matchtree

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bitfunnel/rowid"
)

// Kind tags the variant a Node holds.
type Kind int

const (
	KindUnigram Kind = iota
	KindPhrase
	KindFact
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindUnigram:
		return "Unigram"
	case KindPhrase:
		return "Phrase"
	case KindFact:
		return "Fact"
	case KindAnd:
		return "And"
	case KindOr:
		return "Or"
	case KindNot:
		return "Not"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handle is an arena-local reference to a Node. The zero value is not a
// valid handle; use NilHandle for "no node".
type Handle int32

// NilHandle represents the absence of a node (e.g. an un-set child).
const NilHandle Handle = -1

// Node is the tagged union of match-tree variants. Only the fields relevant
// to Kind are meaningful; this mirrors the "tagged union in place of a
// virtual base class" guidance for polymorphic node hierarchies.
type Node struct {
	Kind Kind

	// KindUnigram
	Term rowid.Term

	// KindPhrase: one Term per gram position, all sharing a stream; GramSize
	// on each Term records the phrase's total length.
	Terms []rowid.Term

	// KindFact
	Fact uint64

	// Leaf inversion, canonicalised onto the leaf by the builder instead of
	// ever materialising Not(leaf) in the arena.
	Inverted bool

	// KindAnd, KindOr (exactly two children)
	Left, Right Handle

	// KindNot (exactly one child; the child is never itself a leaf, since
	// Not(leaf) is canonicalised into the leaf's Inverted flag, and never
	// itself a Not, since Not(Not(x)) is canonicalised away)
	Child Handle
}

func isLeafKind(k Kind) bool {
	return k == KindUnigram || k == KindPhrase || k == KindFact
}

// Arena owns every Node allocated for one query's match tree. It is created
// fresh per query and discarded wholesale at query end (no finalizer or
// explicit free is required: the backing slice is garbage collected once
// the Arena value is dropped).
type Arena struct {
	nodes []Node
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Reset discards every node, keeping the backing slice's capacity so a
// pooled Arena (spec.md section 4.7's "parse(text) resets the match-tree
// arena", SPEC_FULL.md section 4.10's per-worker arena reuse) doesn't
// reallocate on its next query.
func (a *Arena) Reset() {
	a.nodes = a.nodes[:0]
}

func (a *Arena) alloc(n Node) Handle {
	h := Handle(len(a.nodes))
	a.nodes = append(a.nodes, n)
	return h
}

// Node dereferences a handle. Passing NilHandle or an out-of-range handle is
// a programming error, not a recoverable one: it can only arise from a bug
// in this package or its callers, never from malformed input.
func (a *Arena) Node(h Handle) *Node {
	if h < 0 || int(h) >= len(a.nodes) {
		panic(fmt.Sprintf("matchtree: invalid handle %d", h))
	}
	return &a.nodes[h]
}

// Unigram allocates a single-term leaf.
func (a *Arena) Unigram(term rowid.Term) Handle {
	return a.alloc(Node{Kind: KindUnigram, Term: term})
}

// Phrase allocates an n-gram leaf. len(terms) must be >= 2.
func (a *Arena) Phrase(terms []rowid.Term) (Handle, error) {
	if len(terms) < 2 {
		return NilHandle, errors.E(ErrPhraseTooShort, fmt.Sprintf("got %d token(s)", len(terms)))
	}
	cp := make([]rowid.Term, len(terms))
	copy(cp, terms)
	return a.alloc(Node{Kind: KindPhrase, Terms: cp}), nil
}

// Fact allocates a fact leaf (a document-level boolean flag rather than a
// positional term).
func (a *Arena) Fact(id uint64) Handle {
	return a.alloc(Node{Kind: KindFact, Fact: id})
}

// And allocates a conjunction of exactly two children.
func (a *Arena) And(left, right Handle) Handle {
	return a.alloc(Node{Kind: KindAnd, Left: left, Right: right})
}

// Or allocates a disjunction of exactly two children.
func (a *Arena) Or(left, right Handle) Handle {
	return a.alloc(Node{Kind: KindOr, Left: left, Right: right})
}

// Not allocates a negation, canonicalising the two illegal-input shapes the
// spec calls out:
//   - Not(leaf): flips the leaf's Inverted flag in place and returns the
//     leaf itself, so a Not node is never a leaf's direct parent.
//   - Not(Not(x)): collapses to x, so a Not node's child is never itself a
//     Not node.
//
// A genuine Not node is only ever allocated over an And/Or subtree, which
// the rewriter lifts to rank zero for evaluation (see package rewrite).
func (a *Arena) Not(child Handle) Handle {
	cn := a.Node(child)
	if isLeafKind(cn.Kind) {
		cn.Inverted = !cn.Inverted
		return child
	}
	if cn.Kind == KindNot {
		return cn.Child
	}
	return a.alloc(Node{Kind: KindNot, Child: child})
}

// ErrPhraseTooShort is returned when building a Phrase leaf with fewer than
// two tokens (spec.md section 6: "A phrase must have >= 2 tokens").
var ErrPhraseTooShort = fmt.Errorf("matchtree: phrase must have at least 2 tokens")

// ErrInvalidArity is the fatal-on-input-validation error raised by Validate
// when an And/Or node does not have exactly two children, or (defensively,
// since the Arena API prevents constructing one directly) a Not node wraps
// another Not node.
var ErrInvalidArity = fmt.Errorf("matchtree: invalid node arity")

// Validate walks the subtree rooted at h and returns ErrInvalidArity wrapped
// with positional context if any And/Or node lacks two children or any Not
// node wraps a Not node. Trees built exclusively through this package's
// constructors already satisfy this; Validate exists to defend against
// trees built by an external parser (see package query) that might not.
func Validate(a *Arena, h Handle) error {
	if h == NilHandle {
		return errors.E(ErrInvalidArity, "nil child")
	}
	n := a.Node(h)
	switch n.Kind {
	case KindUnigram, KindFact:
		return nil
	case KindPhrase:
		if len(n.Terms) < 2 {
			return errors.E(ErrPhraseTooShort)
		}
		return nil
	case KindAnd, KindOr:
		if n.Left == NilHandle || n.Right == NilHandle {
			return errors.E(ErrInvalidArity, n.Kind.String())
		}
		if err := Validate(a, n.Left); err != nil {
			return err
		}
		return Validate(a, n.Right)
	case KindNot:
		if n.Child == NilHandle {
			return errors.E(ErrInvalidArity, "Not")
		}
		if a.Node(n.Child).Kind == KindNot {
			return errors.E(ErrInvalidArity, "nested Not")
		}
		return Validate(a, n.Child)
	default:
		return errors.E(ErrInvalidArity, fmt.Sprintf("unknown kind %v", n.Kind))
	}
}
