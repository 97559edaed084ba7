// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package query implements the query engine façade (spec.md section 4.7):
// the grammar that parses a query string into a matchtree.Handle, and the
// engine that ties parsing through planning to interpretation.
package query

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/rowid"
)

// ErrParse is the recoverable error (spec.md section 7) raised for any
// grammar violation: unbalanced parens, a phrase with fewer than 2 tokens,
// an unterminated quote, trailing input, or an unknown stream prefix.
var ErrParse = fmt.Errorf("query: parse error")

// DefaultStream is the stream a bare (unprefixed) term is scoped to.
const DefaultStream rowid.StreamID = 0

// Parse parses text against the grammar (spec.md section 6):
//
//	query := or
//	or    := and ('|' and)*
//	and   := simple (('&' | ·) simple)*      // juxtaposition = AND
//	simple:= '-' simple | '(' or ')' | term
//	term  := [stream ':'] ( '"' token+ '"' | token )
//	token := any non-space not in & | ( ) : - " ; with '\' escapes
//
// streams maps a stream prefix name to its StreamID; a term with no prefix
// is scoped to DefaultStream. A prefix absent from streams is an unknown
// stream name (spec.md section 7's recoverable "unknown stream name").
func Parse(mt *matchtree.Arena, text string, streams map[string]rowid.StreamID) (matchtree.Handle, error) {
	p := &parser{mt: mt, src: text, streams: streams}
	p.skipSpace()
	h, err := p.parseOr()
	if err != nil {
		return matchtree.NilHandle, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return matchtree.NilHandle, errors.E(ErrParse, fmt.Sprintf("trailing input at offset %d", p.pos))
	}
	return h, nil
}

type parser struct {
	mt      *matchtree.Arena
	src     string
	pos     int
	streams map[string]rowid.StreamID
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errors.E(ErrParse, fmt.Sprintf("offset %d: %s", p.pos, fmt.Sprintf(format, args...)))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// parseOr handles the '|' level: or := and ('|' and)*
func (p *parser) parseOr() (matchtree.Handle, error) {
	left, err := p.parseAnd()
	if err != nil {
		return matchtree.NilHandle, err
	}
	for {
		p.skipSpace()
		if p.peek() != '|' {
			return left, nil
		}
		p.pos++
		p.skipSpace()
		right, err := p.parseAnd()
		if err != nil {
			return matchtree.NilHandle, err
		}
		left = p.mt.Or(left, right)
	}
}

// parseAnd handles the '&'/juxtaposition level: and := simple (('&' | ·) simple)*
func (p *parser) parseAnd() (matchtree.Handle, error) {
	left, err := p.parseSimple()
	if err != nil {
		return matchtree.NilHandle, err
	}
	for {
		p.skipSpace()
		c := p.peek()
		if c == '&' {
			p.pos++
			p.skipSpace()
		} else if c == 0 || c == '|' || c == ')' {
			return left, nil
		}
		// Otherwise, juxtaposition: another simple follows directly.
		right, err := p.parseSimple()
		if err != nil {
			return matchtree.NilHandle, err
		}
		left = p.mt.And(left, right)
	}
}

// parseSimple handles: simple := '-' simple | '(' or ')' | term
func (p *parser) parseSimple() (matchtree.Handle, error) {
	p.skipSpace()
	switch p.peek() {
	case 0:
		return matchtree.NilHandle, p.errorf("expected a term, got end of input")
	case '-':
		p.pos++
		child, err := p.parseSimple()
		if err != nil {
			return matchtree.NilHandle, err
		}
		return p.mt.Not(child), nil
	case '(':
		p.pos++
		p.skipSpace()
		h, err := p.parseOr()
		if err != nil {
			return matchtree.NilHandle, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return matchtree.NilHandle, p.errorf("expected ')'")
		}
		p.pos++
		return h, nil
	default:
		return p.parseTerm()
	}
}

// parseTerm handles: term := [stream ':'] ( '"' token+ '"' | token )
func (p *parser) parseTerm() (matchtree.Handle, error) {
	start := p.pos
	stream := DefaultStream
	if ident, ok := p.tryParseStreamPrefix(); ok {
		id, known := p.streams[ident]
		if !known {
			return matchtree.NilHandle, p.errorf("unknown stream %q", ident)
		}
		stream = id
	} else {
		p.pos = start
	}

	if p.peek() == '"' {
		tokens, err := p.parseQuotedPhrase()
		if err != nil {
			return matchtree.NilHandle, err
		}
		if len(tokens) < 2 {
			return matchtree.NilHandle, p.errorf("phrase must have at least 2 tokens, got %d", len(tokens))
		}
		terms := make([]rowid.Term, len(tokens))
		for i, tok := range tokens {
			terms[i] = rowid.Term{Text: tok, Stream: stream, GramSize: uint32(len(tokens))}
		}
		h, err := p.mt.Phrase(terms)
		if err != nil {
			return matchtree.NilHandle, errors.E(err, "query: building phrase")
		}
		return h, nil
	}

	tok, ok := p.parseToken()
	if !ok {
		return matchtree.NilHandle, p.errorf("expected a term")
	}
	return p.mt.Unigram(rowid.Term{Text: tok, Stream: stream, GramSize: 1}), nil
}

// tryParseStreamPrefix consumes "ident:" if it is present at the cursor,
// returning the identifier and true; otherwise it leaves the cursor
// untouched (well, advanced, but the caller resets it) and returns false.
func (p *parser) tryParseStreamPrefix() (string, bool) {
	start := p.pos
	// A '\' starts an escape, which a stream name never contains: stop there
	// so an escaped ':' stays part of the token.
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) && p.src[p.pos] != '\\' {
		p.pos++
	}
	if p.pos == start || p.pos >= len(p.src) || p.src[p.pos] != ':' {
		return "", false
	}
	ident := p.src[start:p.pos]
	p.pos++ // consume ':'
	return ident, true
}

func isIdentByte(c byte) bool {
	return c != ' ' && c != '&' && c != '|' && c != '(' && c != ')' && c != ':' && c != '-' && c != '"' && c != ';'
}

// parseToken reads one unquoted token, applying '\' escapes.
func (p *parser) parseToken() (string, bool) {
	start := p.pos
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if !isIdentByte(c) {
			break
		}
		sb.WriteByte(c)
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return sb.String(), true
}

// parseQuotedPhrase reads '"' token+ '"'.
func (p *parser) parseQuotedPhrase() ([]string, error) {
	p.pos++ // consume opening quote
	var tokens []string
	for {
		p.skipSpace()
		if p.peek() == '"' {
			p.pos++
			return tokens, nil
		}
		if p.peek() == 0 {
			return nil, p.errorf("unterminated phrase")
		}
		tok, ok := p.parseQuotedToken()
		if !ok {
			return nil, p.errorf("expected a token inside phrase")
		}
		tokens = append(tokens, tok)
	}
}

func (p *parser) parseQuotedToken() (string, bool) {
	start := p.pos
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if c == ' ' || c == '"' {
			break
		}
		sb.WriteByte(c)
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return sb.String(), true
}
