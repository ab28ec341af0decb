package tools

import (
	"fmt"
	"math"
	"strconv"
)

// Evaluate computes an arithmetic expression over decimal numbers,
// the operators + - * /, and parentheses. Anything else is rejected,
// so model-generated expressions can never reach an interpreter.
func Evaluate(expression string) (float64, error) {
	p := &exprParser{input: expression}
	p.skipSpaces()
	if p.eof() {
		return 0, fmt.Errorf("empty expression")
	}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if !p.eof() {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, fmt.Errorf("result out of range")
	}
	return result, nil
}

// exprParser is a recursive-descent parser with the grammar:
//
//	expr   = term   { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = number | "(" expr ")" | ("+" | "-") factor
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *exprParser) peek() byte {
	return p.input[p.pos]
}

func (p *exprParser) skipSpaces() {
	for !p.eof() && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.eof() || (p.peek() != '+' && p.peek() != '-') {
			return left, nil
		}
		op := p.peek()
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.eof() || (p.peek() != '*' && p.peek() != '/') {
			return left, nil
		}
		op := p.peek()
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpaces()
	if p.eof() {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	switch c := p.peek(); {
	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.eof() || p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case c == '+':
		p.pos++
		return p.parseFactor()
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	case c >= '0' && c <= '9', c == '.':
		return p.parseNumber()
	default:
		return 0, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for !p.eof() {
		c := p.peek()
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			p.pos++
			continue
		}
		break
	}
	text := p.input[start:p.pos]
	if text == "" || text == "." {
		return 0, fmt.Errorf("invalid number at position %d", start)
	}
	return strconv.ParseFloat(text, 64)
}

// formatNumber renders a result without a trailing ".000000" for
// integral values.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
