// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package parser

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokValueID  // %name
	tokSymbol   // @name
	tokLabel    // ^name
	tokInt
	tokFloat
	tokString
	tokPunct // single-char punctuation, or "->"
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (lx *lexer) errorf(line, col int, format string, args ...any) error {
	return errors.Errorf("%d:%d: "+format, append([]any{line, col}, args...)...)
}

func (lx *lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '/' {
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.advance()
			}
			continue
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return
		}
		lx.advance()
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// next returns the next token.
func (lx *lexer) next() (token, error) {
	lx.skipSpace()
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, line: lx.line, col: lx.col}, nil
	}
	line, col := lx.line, lx.col
	c := lx.src[lx.pos]
	switch {
	case c == '%' || c == '@' || c == '^':
		lx.advance()
		start := lx.pos
		for lx.pos < len(lx.src) && isIdentByte(lx.src[lx.pos]) {
			lx.advance()
		}
		if lx.pos == start {
			return token{}, lx.errorf(line, col, "dangling %q", string(c))
		}
		kind := tokValueID
		if c == '@' {
			kind = tokSymbol
		} else if c == '^' {
			kind = tokLabel
		}
		return token{kind: kind, text: lx.src[start:lx.pos], line: line, col: col}, nil

	case c == '"':
		lx.advance()
		var sb strings.Builder
		for {
			if lx.pos >= len(lx.src) {
				return token{}, lx.errorf(line, col, "unterminated string")
			}
			c := lx.advance()
			if c == '"' {
				break
			}
			if c == '\\' {
				if lx.pos >= len(lx.src) {
					return token{}, lx.errorf(line, col, "unterminated string escape")
				}
				c = lx.advance()
				switch c {
				case 'n':
					c = '\n'
				case 't':
					c = '\t'
				}
			}
			sb.WriteByte(c)
		}
		return token{kind: tokString, text: sb.String(), line: line, col: col}, nil

	case c == '-' || unicode.IsDigit(rune(c)):
		start := lx.pos
		if c == '-' {
			lx.advance()
			if lx.pos >= len(lx.src) {
				return token{}, lx.errorf(line, col, "dangling '-'")
			}
			if lx.src[lx.pos] == '>' {
				lx.advance()
				return token{kind: tokPunct, text: "->", line: line, col: col}, nil
			}
			if !unicode.IsDigit(rune(lx.src[lx.pos])) {
				return token{}, lx.errorf(line, col, "expected digit after '-'")
			}
		}
		isFloat := false
		for lx.pos < len(lx.src) {
			c := lx.src[lx.pos]
			if unicode.IsDigit(rune(c)) {
				lx.advance()
				continue
			}
			if c == '.' || c == 'e' || c == 'E' {
				isFloat = true
				lx.advance()
				if (c == 'e' || c == 'E') && lx.pos < len(lx.src) &&
					(lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-') {
					lx.advance()
				}
				continue
			}
			break
		}
		kind := tokInt
		if isFloat {
			kind = tokFloat
		}
		return token{kind: kind, text: lx.src[start:lx.pos], line: line, col: col}, nil

	case unicode.IsLetter(rune(c)) || c == '_':
		start := lx.pos
		for lx.pos < len(lx.src) && isIdentByte(lx.src[lx.pos]) {
			lx.advance()
		}
		return token{kind: tokIdent, text: lx.src[start:lx.pos], line: line, col: col}, nil

	default:
		lx.advance()
		return token{kind: tokPunct, text: string(c), line: line, col: col}, nil
	}
}

// rawUntil consumes and returns the raw text up to (not including) the given
// delimiter byte, then consumes the delimiter. Used for the payload of
// tensor<...>, buffer<...> and bytes<...> where normal tokenization does not
// apply.
func (lx *lexer) rawUntil(delim byte) (string, error) {
	start := lx.pos
	for lx.pos < len(lx.src) {
		if lx.src[lx.pos] == delim {
			text := lx.src[start:lx.pos]
			lx.advance()
			return text, nil
		}
		lx.advance()
	}
	return "", lx.errorf(lx.line, lx.col, "missing %q", string(delim))
}
