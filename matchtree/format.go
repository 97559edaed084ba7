// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matchtree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bitfunnel/rowid"
)

// Format renders the subtree rooted at h in the nested prefix notation
// described by spec.md section 6 ("Match-tree text format"): keywords
// AndMatch/OrMatch/NotMatch/UnigramMatch/PhraseMatch/FactMatch, braces for
// objects, brackets for lists. This format is a test fixture, not a
// production interface: it exists so match trees can round-trip through
// text in unit tests (spec.md section 8, "Parse(format(tree)) equals tree").
func Format(a *Arena, h Handle) string {
	var sb strings.Builder
	format(a, h, &sb)
	return sb.String()
}

func format(a *Arena, h Handle, sb *strings.Builder) {
	n := a.Node(h)
	switch n.Kind {
	case KindUnigram:
		fmt.Fprintf(sb, "UnigramMatch{stream:%d,gram:%d,text:%s,inverted:%t}",
			n.Term.Stream, n.Term.GramSize, strconv.Quote(n.Term.Text), n.Inverted)
	case KindFact:
		fmt.Fprintf(sb, "FactMatch{id:%d,inverted:%t}", n.Fact, n.Inverted)
	case KindPhrase:
		sb.WriteString("PhraseMatch{stream:")
		fmt.Fprintf(sb, "%d,inverted:%t,tokens:[", n.Terms[0].Stream, n.Inverted)
		for i, t := range n.Terms {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(strconv.Quote(t.Text))
		}
		sb.WriteString("]}")
	case KindAnd:
		sb.WriteString("AndMatch{children:[")
		format(a, n.Left, sb)
		sb.WriteString(",")
		format(a, n.Right, sb)
		sb.WriteString("]}")
	case KindOr:
		sb.WriteString("OrMatch{children:[")
		format(a, n.Left, sb)
		sb.WriteString(",")
		format(a, n.Right, sb)
		sb.WriteString("]}")
	case KindNot:
		sb.WriteString("NotMatch{child:")
		format(a, n.Child, sb)
		sb.WriteString("}")
	}
}

// Parse parses text produced by Format back into a.
func Parse(a *Arena, text string) (Handle, error) {
	p := &textParser{src: text}
	h, err := p.parseNode()
	if err != nil {
		return NilHandle, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return NilHandle, errors.E(ErrParse, fmt.Sprintf("trailing input at offset %d", p.pos))
	}
	return p.build(a, h)
}

// ErrParse is returned for any malformed match-tree text.
var ErrParse = fmt.Errorf("matchtree: parse error")

// parsedNode is a keyword-agnostic intermediate form produced while
// scanning text, turned into real Arena nodes only once the whole object
// has been read (so construction goes through the Arena's constructors,
// which enforce the Not/Phrase canonicalisation rules uniformly for text-
// parsed and programmatically-built trees alike).
type parsedNode struct {
	keyword  string
	fields   map[string]string
	children []*parsedNode
	child    *parsedNode
	tokens   []string
}

type textParser struct {
	src string
	pos int
}

func (p *textParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\n' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *textParser) errorf(format string, args ...interface{}) error {
	return errors.E(ErrParse, fmt.Sprintf("offset %d: %s", p.pos, fmt.Sprintf(format, args...)))
}

func (p *textParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *textParser) parseKeyword() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected keyword")
	}
	return p.src[start:p.pos], nil
}

func isIdentByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}

func (p *textParser) parseQuoted() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '"' {
		return "", p.errorf("expected string literal")
	}
	start := p.pos
	p.pos++
	for p.pos < len(p.src) && p.src[p.pos] != '"' {
		if p.src[p.pos] == '\\' {
			p.pos++
		}
		p.pos++
	}
	if p.pos >= len(p.src) {
		return "", p.errorf("unterminated string literal")
	}
	p.pos++
	return strconv.Unquote(p.src[start:p.pos])
}

// parseNode parses one "Keyword{...}" object, returning the intermediate
// representation.
func (p *textParser) parseNode() (*parsedNode, error) {
	kw, err := p.parseKeyword()
	if err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	n := &parsedNode{keyword: kw, fields: map[string]string{}}
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '}' {
			p.pos++
			break
		}
		name, err := p.parseKeyword()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		switch {
		case p.pos < len(p.src) && p.src[p.pos] == '[':
			p.pos++
			if err := p.parseList(n, name); err != nil {
				return nil, err
			}
		case p.pos < len(p.src) && p.src[p.pos] == '"':
			s, err := p.parseQuoted()
			if err != nil {
				return nil, err
			}
			n.fields[name] = s
		case p.pos < len(p.src) && isIdentByte(p.src[p.pos]) && !isValueLiteral(p.src, p.pos):
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.child = child
		default:
			start := p.pos
			for p.pos < len(p.src) && (isIdentByte(p.src[p.pos])) {
				p.pos++
			}
			if p.pos == start {
				return nil, p.errorf("expected value for field %q", name)
			}
			n.fields[name] = p.src[start:p.pos]
		}
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
		}
	}
	return n, nil
}

// isValueLiteral reports whether the identifier starting at pos looks like
// a bare scalar (true/false/a number) rather than a nested "Keyword{...}".
func isValueLiteral(src string, pos int) bool {
	end := pos
	for end < len(src) && isIdentByte(src[end]) {
		end++
	}
	word := src[pos:end]
	if word == "true" || word == "false" {
		return true
	}
	for _, c := range word {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (p *textParser) parseList(n *parsedNode, field string) error {
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ']' {
			p.pos++
			return nil
		}
		if p.pos < len(p.src) && p.src[p.pos] == '"' {
			s, err := p.parseQuoted()
			if err != nil {
				return err
			}
			n.tokens = append(n.tokens, s)
		} else {
			child, err := p.parseNode()
			if err != nil {
				return err
			}
			n.children = append(n.children, child)
		}
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *textParser) build(a *Arena, n *parsedNode) (Handle, error) {
	inverted := n.fields["inverted"] == "true"
	switch n.keyword {
	case "UnigramMatch":
		stream, err := strconv.Atoi(n.fields["stream"])
		if err != nil {
			return NilHandle, p.errorf("bad stream: %v", err)
		}
		gram, err := strconv.Atoi(n.fields["gram"])
		if err != nil {
			return NilHandle, p.errorf("bad gram: %v", err)
		}
		h := a.Unigram(rowid.Term{Text: n.fields["text"], Stream: rowid.StreamID(stream), GramSize: uint32(gram)})
		if inverted {
			h = a.Not(h)
		}
		return h, nil
	case "FactMatch":
		id, err := strconv.ParseUint(n.fields["id"], 10, 64)
		if err != nil {
			return NilHandle, p.errorf("bad fact id: %v", err)
		}
		h := a.Fact(id)
		if inverted {
			h = a.Not(h)
		}
		return h, nil
	case "PhraseMatch":
		stream, err := strconv.Atoi(n.fields["stream"])
		if err != nil {
			return NilHandle, p.errorf("bad stream: %v", err)
		}
		terms := make([]rowid.Term, len(n.tokens))
		for i, tok := range n.tokens {
			terms[i] = rowid.Term{Text: tok, Stream: rowid.StreamID(stream), GramSize: uint32(len(n.tokens))}
		}
		h, err := a.Phrase(terms)
		if err != nil {
			return NilHandle, err
		}
		if inverted {
			h = a.Not(h)
		}
		return h, nil
	case "AndMatch", "OrMatch":
		if len(n.children) != 2 {
			return NilHandle, errors.E(ErrInvalidArity, n.keyword)
		}
		l, err := p.build(a, n.children[0])
		if err != nil {
			return NilHandle, err
		}
		r, err := p.build(a, n.children[1])
		if err != nil {
			return NilHandle, err
		}
		if n.keyword == "AndMatch" {
			return a.And(l, r), nil
		}
		return a.Or(l, r), nil
	case "NotMatch":
		if n.child == nil {
			return NilHandle, errors.E(ErrInvalidArity, "Not")
		}
		c, err := p.build(a, n.child)
		if err != nil {
			return NilHandle, err
		}
		return a.Not(c), nil
	default:
		return NilHandle, p.errorf("unknown keyword %q", n.keyword)
	}
}
