package subscription

import (
	"fmt"
	"strconv"
	"strings"
)

var comparisons = map[string]string{
	"=":  "fqlEq",
	"!=": "fqlNeq",
	">":  "fqlGt",
	">=": "fqlGte",
	"<":  "fqlLt",
	"<=": "fqlLte",
}

var functions = map[string]struct {
	name  string
	arity int
}{
	"contains":  {"fqlContains", 2},
	"match":     {"fqlMatch", 2},
	"lowercase": {"fqlLower", 1},
	"length":    {"fqlLength", 1},
}

// parser translates a subscription query into an expr program source.
type parser struct {
	tokens []token
	pos    int
}

func translate(query string) (string, error) {
	tokens, err := lex(query)
	if err != nil {
		return "", err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokenEOF {
		return "", fmt.Errorf("empty subscription")
	}

	source, err := p.parseOr()
	if err != nil {
		return "", err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return "", fmt.Errorf("unexpected %s", tok)
	}
	return source, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) keyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokenIdent && strings.EqualFold(tok.value, word)
}

func (p *parser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	for p.keyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		left = "(" + left + " || " + right + ")"
	}
	return left, nil
}

func (p *parser) parseAnd() (string, error) {
	left, err := p.parseNot()
	if err != nil {
		return "", err
	}
	for p.keyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return "", err
		}
		left = "(" + left + " && " + right + ")"
	}
	return left, nil
}

func (p *parser) parseNot() (string, error) {
	tok := p.peek()
	if (tok.kind == tokenOperator && tok.value == "!") || p.keyword("not") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return "", err
		}
		return "!" + inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (string, error) {
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if tok := p.next(); tok.kind != tokenRParen {
			return "", fmt.Errorf("expected ')' but found %s", tok)
		}
		return "(" + inner + ")", nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return "", err
	}

	tok := p.peek()
	if tok.kind != tokenOperator || tok.value == "!" {
		return "fqlTruthy(" + left + ")", nil
	}
	fn, ok := comparisons[tok.value]
	if !ok {
		return "", fmt.Errorf("unknown operator %s", tok)
	}
	p.next()

	right, err := p.parseOperand()
	if err != nil {
		return "", err
	}
	return fn + "(" + left + ", " + right + ")", nil
}

func (p *parser) parseOperand() (string, error) {
	tok := p.next()
	switch tok.kind {
	case tokenString:
		return strconv.Quote(tok.value), nil
	case tokenNumber:
		if _, err := strconv.ParseFloat(tok.value, 64); err != nil {
			return "", fmt.Errorf("invalid number %s", tok)
		}
		return tok.value, nil
	case tokenIdent:
		switch strings.ToLower(tok.value) {
		case "true", "false":
			return strings.ToLower(tok.value), nil
		case "null":
			return "nil", nil
		case "and", "or", "not":
			return "", fmt.Errorf("unexpected keyword %s", tok)
		}
		if p.peek().kind == tokenLParen {
			return p.parseCall(tok)
		}
		return "fqlGet(event, " + strconv.Quote(tok.value) + ")", nil
	default:
		return "", fmt.Errorf("unexpected %s", tok)
	}
}

func (p *parser) parseCall(name token) (string, error) {
	fn, ok := functions[strings.ToLower(name.value)]
	if !ok {
		return "", fmt.Errorf("unknown function %s", name)
	}
	p.next() // (

	args := []string{}
	for p.peek().kind != tokenRParen {
		if len(args) > 0 {
			if tok := p.next(); tok.kind != tokenComma {
				return "", fmt.Errorf("expected ',' but found %s", tok)
			}
		}
		arg, err := p.parseOperand()
		if err != nil {
			return "", err
		}
		args = append(args, arg)
	}
	p.next() // )

	if len(args) != fn.arity {
		return "", fmt.Errorf("%s expects %d arguments but got %d", name.value, fn.arity, len(args))
	}
	return fn.name + "(" + strings.Join(args, ", ") + ")", nil
}
