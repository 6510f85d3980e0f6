package subscription

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOperator
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q at position %d", t.value, t.pos)
}

func lex(input string) ([]token, error) {
	tokens := []token{}
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case r == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++
		case r == '"' || r == '\'':
			value, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokenString, value, i})
			i = next
		case r == '=' || r == '!' || r == '<' || r == '>':
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
			}
			if op == "!" && (i+1 >= len(runes) || runes[i+1] != '=') {
				tokens = append(tokens, token{tokenOperator, "!", i})
				i++
				continue
			}
			tokens = append(tokens, token{tokenOperator, op, i})
			i += len(op)
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokenNumber, string(runes[start:i]), start})
		case isIdentStart(r):
			start := i
			var b strings.Builder
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if !isIdentPart(c) {
					break
				}
				b.WriteRune(c)
				i++
			}
			tokens = append(tokens, token{tokenIdent, b.String(), start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}

	return append(tokens, token{tokenEOF, "", len(runes)}), nil
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				b.WriteRune(runes[i+1])
				i++
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$' || r == '\\'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' || r == '.' || r == '-'
}
