package pattern

import (
	"math"
	"strconv"
)

// equalityEpsilon is the tolerance for == and != so expressions
// comparing float results behave predictably.
const equalityEpsilon = 0.0001

// Resolver looks up a named variable outside the built-in set, letting
// expressions read live device state (inport values). Returning false
// means the name is unknown.
type Resolver func(name string) (float64, bool)

// Evaluator evaluates pattern expressions. Built-in variables are
// theta, t, i and pi; everything else goes through the resolver.
//
// Evaluation never fails: division by zero, unknown identifiers and
// trailing garbage all yield 0. The zero value evaluates with no
// resolver.
type Evaluator struct {
	resolver Resolver
}

// NewEvaluator creates an evaluator with an optional variable resolver.
func NewEvaluator(resolver Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// Eval evaluates expr with the given frame variables. Safe for
// concurrent use; parser state lives per call.
func (e *Evaluator) Eval(expr string, theta, t float64, i int) float64 {
	p := &parser{
		expr:     expr,
		theta:    theta,
		t:        t,
		i:        i,
		resolver: e.resolver,
	}
	return p.parseLogicalOr()
}

// Grammar, loosest binding first:
//
//	logicalOr  → logicalAnd ('||' logicalAnd)*
//	logicalAnd → comparison ('&&' comparison)*
//	comparison → sum (('<'|'>'|'<='|'>='|'=='|'!=') sum)?
//	sum        → term (('+'|'-') term)*
//	term       → factor (('*'|'/'|'%') factor)*
//	factor     → '!' factor | unary
//	unary      → '-' unary | '(' logicalOr ')' | number | ident [args]
type parser struct {
	expr     string
	pos      int
	theta, t float64
	i        int
	resolver Resolver
}

func (p *parser) peek() byte {
	if p.pos >= len(p.expr) {
		return 0
	}
	return p.expr[p.pos]
}

func (p *parser) peekAt(offset int) byte {
	if p.pos+offset >= len(p.expr) {
		return 0
	}
	return p.expr[p.pos+offset]
}

func (p *parser) consume() byte {
	c := p.peek()
	p.pos++
	return c
}

func (p *parser) skipWhitespace() {
	for {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) parseLogicalOr() float64 {
	p.skipWhitespace()
	result := p.parseLogicalAnd()
	for {
		p.skipWhitespace()
		if p.peek() == '|' && p.peekAt(1) == '|' {
			p.pos += 2
			right := p.parseLogicalAnd()
			result = boolToFloat(result != 0 || right != 0)
		} else {
			return result
		}
	}
}

func (p *parser) parseLogicalAnd() float64 {
	p.skipWhitespace()
	result := p.parseComparison()
	for {
		p.skipWhitespace()
		if p.peek() == '&' && p.peekAt(1) == '&' {
			p.pos += 2
			right := p.parseComparison()
			result = boolToFloat(result != 0 && right != 0)
		} else {
			return result
		}
	}
}

func (p *parser) parseComparison() float64 {
	p.skipWhitespace()
	result := p.parseSum()

	p.skipWhitespace()
	op := p.peek()
	if op != '<' && op != '>' && op != '=' && op != '!' {
		return result
	}

	if p.peekAt(1) == '=' {
		p.pos += 2
		right := p.parseSum()
		switch op {
		case '<':
			return boolToFloat(result <= right)
		case '>':
			return boolToFloat(result >= right)
		case '=':
			return boolToFloat(math.Abs(result-right) < equalityEpsilon)
		case '!':
			return boolToFloat(math.Abs(result-right) >= equalityEpsilon)
		}
	}
	if op == '<' || op == '>' {
		p.pos++
		right := p.parseSum()
		if op == '<' {
			return boolToFloat(result < right)
		}
		return boolToFloat(result > right)
	}
	// Lone '=' or '!' is not a comparison here; leave it for the
	// caller's level (it will dead-end and yield 0).
	return result
}

func (p *parser) parseSum() float64 {
	p.skipWhitespace()
	result := p.parseTerm()
	for {
		p.skipWhitespace()
		switch p.peek() {
		case '+':
			p.pos++
			result += p.parseTerm()
		case '-':
			p.pos++
			result -= p.parseTerm()
		default:
			return result
		}
	}
}

func (p *parser) parseTerm() float64 {
	p.skipWhitespace()
	result := p.parseFactor()
	for {
		p.skipWhitespace()
		switch p.peek() {
		case '*':
			p.pos++
			result *= p.parseFactor()
		case '/':
			p.pos++
			right := p.parseFactor()
			if right != 0 {
				result /= right
			} else {
				result = 0
			}
		case '%':
			p.pos++
			result = math.Mod(result, p.parseFactor())
		default:
			return result
		}
	}
}

func (p *parser) parseFactor() float64 {
	p.skipWhitespace()
	if p.peek() == '!' && p.peekAt(1) != '=' {
		p.pos++
		return boolToFloat(p.parseFactor() == 0)
	}
	return p.parseUnary()
}

func (p *parser) parseUnary() float64 {
	p.skipWhitespace()

	switch c := p.peek(); {
	case c == '-':
		p.pos++
		return -p.parseUnary()
	case c == '(':
		p.pos++
		result := p.parseLogicalOr()
		p.skipWhitespace()
		if p.peek() == ')' {
			p.pos++
		}
		return result
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case isAlpha(c):
		return p.parseIdentifier()
	default:
		return 0
	}
}

func (p *parser) parseNumber() float64 {
	start := p.pos
	for {
		c := p.peek()
		if c >= '0' && c <= '9' || c == '.' {
			p.pos++
		} else {
			break
		}
	}
	v, err := strconv.ParseFloat(p.expr[start:p.pos], 64)
	if err != nil {
		return 0
	}
	return v
}

func (p *parser) parseIdentifier() float64 {
	start := p.pos
	for {
		c := p.peek()
		if isAlpha(c) || c >= '0' && c <= '9' || c == '_' {
			p.pos++
		} else {
			break
		}
	}
	name := p.expr[start:p.pos]

	p.skipWhitespace()
	if p.peek() == '(' {
		p.pos++
		return p.parseCall(name)
	}

	switch name {
	case "theta":
		return p.theta
	case "t":
		return p.t
	case "i":
		return float64(p.i)
	case "pi":
		return math.Pi
	}
	if p.resolver != nil {
		if v, ok := p.resolver(name); ok {
			return v
		}
	}
	return 0
}

func (p *parser) parseCall(name string) float64 {
	arg1 := p.parseLogicalOr()
	p.skipWhitespace()

	if p.peek() == ',' {
		p.pos++
		arg2 := p.parseLogicalOr()
		p.skipWhitespace()
		if p.peek() == ')' {
			p.pos++
		}
		switch name {
		case "min":
			return math.Min(arg1, arg2)
		case "max":
			return math.Max(arg1, arg2)
		case "mod":
			return math.Mod(arg1, arg2)
		case "pow":
			return math.Pow(arg1, arg2)
		}
		return 0
	}

	if p.peek() == ')' {
		p.pos++
	}
	switch name {
	case "sin":
		return math.Sin(arg1)
	case "cos":
		return math.Cos(arg1)
	case "tan":
		return math.Tan(arg1)
	case "abs":
		return math.Abs(arg1)
	case "sqrt":
		return math.Sqrt(arg1)
	case "floor":
		return math.Floor(arg1)
	case "ceil":
		return math.Ceil(arg1)
	}
	return 0
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
