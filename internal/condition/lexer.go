package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkNumber
	tkString
	tkLParen
	tkRParen
	tkLBracket
	tkRBracket
	tkComma
	tkEq
	tkNe
	tkLt
	tkLe
	tkGt
	tkGe
	tkAnd
	tkOr
	tkNot
	tkIn
	tkTrue
	tkFalse
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var keywords = map[string]tokenKind{
	"and":   tkAnd,
	"or":    tkOr,
	"not":   tkNot,
	"in":    tkIn,
	"true":  tkTrue,
	"false": tkFalse,
}

// lex tokenizes a condition expression. Keywords are case-insensitive;
// identifiers keep their case.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(input) {
		c := rune(input[i])

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tkLParen, pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tkRParen, pos: i})
			i++
		case c == '[':
			tokens = append(tokens, token{kind: tkLBracket, pos: i})
			i++
		case c == ']':
			tokens = append(tokens, token{kind: tkRBracket, pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tkComma, pos: i})
			i++

		case c == '=':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tkEq, pos: i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '=' at position %d (use '==')", i)
			}
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tkNe, pos: i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '!' at position %d (use '!=' or 'not')", i)
			}
		case c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tkLe, pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tkLt, pos: i})
				i++
			}
		case c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tkGe, pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tkGt, pos: i})
				i++
			}

		case c == '\'' || c == '"':
			str, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tkString, text: str, pos: i})
			i = next

		case unicode.IsDigit(c) || (c == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			start := i
			i++
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				i++
			}
			num, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", input[start:i], start)
			}
			tokens = append(tokens, token{kind: tkNumber, num: num, pos: start})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i])) || input[i] == '_' || input[i] == '.') {
				i++
			}
			word := input[start:i]
			if kw, ok := keywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{kind: kw, text: word, pos: start})
			} else {
				tokens = append(tokens, token{kind: tkIdent, text: word, pos: start})
			}

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	tokens = append(tokens, token{kind: tkEOF, pos: len(input)})
	return tokens, nil
}

func lexString(input string, start int) (string, int, error) {
	quote := input[start]
	i := start + 1
	var b strings.Builder

	for i < len(input) {
		c := input[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(input) {
			i++
			c = input[i]
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}
