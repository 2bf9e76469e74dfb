package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// The advanced query is a small boolean expression over resource
// attributes:
//
//	expr       := term { ("&" | "|") term }
//	term       := "(" expr ")" | comparison
//	comparison := attr op value
//	op         := "==" | "!=" | "<=" | ">=" | "<" | ">"
//
// "&" binds tighter than "|". Values are numbers, single- or double-quoted
// strings, or bare words.

// queryExpr is a compiled advanced query.
type queryExpr struct {
	eval func(res *resource.Resource) bool
}

func (q *queryExpr) matches(res *resource.Resource) bool {
	return q.eval(res)
}

// parseQuery compiles an advanced query string. Parse failures are client
// faults.
func parseQuery(input string) (*queryExpr, error) {
	p := &queryParser{tokens: tokenizeQuery(input)}
	eval, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("advanced query %q: %v: %w", input, err, onem2m.ErrBadRequest)
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("advanced query %q: trailing input at %q: %w", input, p.tokens[p.pos], onem2m.ErrBadRequest)
	}
	return &queryExpr{eval: eval}, nil
}

type queryParser struct {
	tokens []string
	pos    int
}

func (p *queryParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *queryParser) next() string {
	tok := p.peek()
	if tok != "" {
		p.pos++
	}
	return tok
}

func (p *queryParser) parseOr() (func(*resource.Resource) bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "|" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(res *resource.Resource) bool { return l(res) || r(res) }
	}
	return left, nil
}

func (p *queryParser) parseAnd() (func(*resource.Resource) bool, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&" {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(res *resource.Resource) bool { return l(res) && r(res) }
	}
	return left, nil
}

func (p *queryParser) parseTerm() (func(*resource.Resource) bool, error) {
	if p.peek() == "(" {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	}

	attr := p.next()
	if attr == "" {
		return nil, fmt.Errorf("expected attribute name")
	}
	op := p.next()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	value := p.next()
	if value == "" {
		return nil, fmt.Errorf("expected comparison value")
	}
	value = strings.Trim(value, `"'`)

	return func(res *resource.Resource) bool {
		return compareAttr(res.Attributes[attr], op, value)
	}, nil
}

// compareAttr compares an attribute against a literal: numerically when
// both sides parse as numbers, lexically otherwise.
func compareAttr(have any, op, want string) bool {
	if have == nil {
		return false
	}
	haveStr := scalarString(have)

	haveNum, errH := strconv.ParseFloat(haveStr, 64)
	wantNum, errW := strconv.ParseFloat(want, 64)
	if errH == nil && errW == nil {
		switch op {
		case "==":
			return haveNum == wantNum
		case "!=":
			return haveNum != wantNum
		case "<":
			return haveNum < wantNum
		case "<=":
			return haveNum <= wantNum
		case ">":
			return haveNum > wantNum
		case ">=":
			return haveNum >= wantNum
		}
		return false
	}

	switch op {
	case "==":
		return haveStr == want
	case "!=":
		return haveStr != want
	case "<":
		return haveStr < want
	case "<=":
		return haveStr <= want
	case ">":
		return haveStr > want
	case ">=":
		return haveStr >= want
	}
	return false
}

// scalarString renders a scalar attribute for comparison.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// tokenizeQuery splits the input into operator, parenthesis, and word
// tokens. Quoted strings keep embedded spaces and operators.
func tokenizeQuery(input string) []string {
	var tokens []string
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')' || c == '&' || c == '|':
			tokens = append(tokens, string(c))
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			tokens = append(tokens, input[i+1:min(j, len(input))])
			i = j + 1
		case strings.HasPrefix(input[i:], "==") || strings.HasPrefix(input[i:], "!=") ||
			strings.HasPrefix(input[i:], "<=") || strings.HasPrefix(input[i:], ">="):
			tokens = append(tokens, input[i:i+2])
			i += 2
		case c == '<' || c == '>':
			tokens = append(tokens, string(c))
			i++
		default:
			j := i
			for j < len(input) && !strings.ContainsRune(" \t()&|<>=!", rune(input[j])) {
				j++
			}
			tokens = append(tokens, input[i:j])
			i = j
		}
	}
	return tokens
}
