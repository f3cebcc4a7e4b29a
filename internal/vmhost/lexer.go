package vmhost

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokKeyword
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	num  float64
	line int
}

var keywords = map[string]bool{
	"local": true, "if": true, "then": true, "else": true, "elseif": true,
	"end": true, "while": true, "do": true, "for": true, "function": true,
	"return": true, "break": true, "true": true, "false": true, "nil": true,
	"and": true, "or": true, "not": true, "in": true,
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer { return &lexer{src: src, line: 1} }

func (lx *lexer) peekByte() byte {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *lexer) tokens() ([]token, error) {
	var out []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.kind == tokEOF {
			break
		}
	}
	return out, nil
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			lx.line++
			lx.pos++
		case c == ' ' || c == '\t' || c == '\r':
			lx.pos++
		case c == '-' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '-':
			lx.pos += 2
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			goto scan
		}
	}
scan:
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, line: lx.line}, nil
	}
	line := lx.line
	c := lx.src[lx.pos]

	if isAlpha(c) {
		start := lx.pos
		for lx.pos < len(lx.src) && isAlnum(lx.src[lx.pos]) {
			lx.pos++
		}
		text := lx.src[start:lx.pos]
		if keywords[text] {
			return token{kind: tokKeyword, text: text, line: line}, nil
		}
		return token{kind: tokIdent, text: text, line: line}, nil
	}

	if isDigit(c) {
		start := lx.pos
		for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
			lx.pos++
		}
		text := lx.src[start:lx.pos]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, fmt.Errorf("line %d: bad number %q", line, text)
		}
		return token{kind: tokNumber, num: n, text: text, line: line}, nil
	}

	if c == '"' || c == '\'' {
		quote := c
		lx.pos++
		var sb strings.Builder
		for lx.pos < len(lx.src) && lx.src[lx.pos] != quote {
			ch := lx.src[lx.pos]
			if ch == '\\' && lx.pos+1 < len(lx.src) {
				lx.pos++
				switch lx.src[lx.pos] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				default:
					sb.WriteByte(lx.src[lx.pos])
				}
			} else {
				sb.WriteByte(ch)
			}
			lx.pos++
		}
		if lx.pos >= len(lx.src) {
			return token{}, fmt.Errorf("line %d: unterminated string", line)
		}
		lx.pos++ // closing quote
		return token{kind: tokString, text: sb.String(), line: line}, nil
	}

	for _, sym := range []string{"==", "~=", "<=", ">=", "..", "+", "-", "*", "/", "%",
		"<", ">", "=", "(", ")", "{", "}", "[", "]", ",", ";", ":", "."} {
		if strings.HasPrefix(lx.src[lx.pos:], sym) {
			lx.pos += len(sym)
			return token{kind: tokSymbol, text: sym, line: line}, nil
		}
	}

	return token{}, fmt.Errorf("line %d: unexpected character %q", line, string(c))
}

func isAlpha(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }
