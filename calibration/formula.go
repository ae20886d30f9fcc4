// Package calibration converts raw voltage-difference readings into
// pressure using a user-supplied arithmetic formula in the single free
// variable v. The formula lives in a plain-text calibration file; when
// the file is missing or its contents fail to parse, the hard-coded
// default calibration is used instead.
package calibration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultExpr is the factory calibration for the pressure transducer.
const DefaultExpr = "(5.0221 * v) - 24.036"

// Formula is a parsed conversion expression. The grammar is deliberately
// tiny: float literals, the variable v, + - * / ^, unary minus, and
// parentheses. Nothing else parses, so a calibration file can never
// smuggle in anything beyond arithmetic.
type Formula struct {
	src  string
	root node
}

// Parse compiles src into an evaluable Formula.
func Parse(src string) (*Formula, error) {
	p := &parser{toks: nil}
	if err := p.lex(src); err != nil {
		return nil, err
	}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q after expression", p.peek().text)
	}
	return &Formula{src: strings.TrimSpace(src), root: root}, nil
}

// Default returns the parsed factory calibration. DefaultExpr is a
// compile-time constant covered by tests, so a parse failure here means
// the binary itself is broken.
func Default() *Formula {
	f, err := Parse(DefaultExpr)
	if err != nil {
		panic(fmt.Sprintf("default calibration %q does not parse: %v", DefaultExpr, err))
	}
	return f
}

func (f *Formula) String() string {
	return f.src
}

// Eval computes the formula at the given voltage difference. Division by
// zero and non-finite results are reported as errors so the caller can
// fall back to the default calibration.
func (f *Formula) Eval(v float64) (float64, error) {
	res, err := f.root.eval(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(res) || math.IsInf(res, 0) {
		return 0, fmt.Errorf("formula %q produced non-finite result at v=%g", f.src, v)
	}
	return res, nil
}

type node interface {
	eval(v float64) (float64, error)
}

type litNode float64

func (l litNode) eval(float64) (float64, error) { return float64(l), nil }

type varNode struct{}

func (varNode) eval(v float64) (float64, error) { return v, nil }

type negNode struct{ operand node }

func (n negNode) eval(v float64) (float64, error) {
	val, err := n.operand.eval(v)
	return -val, err
}

type binNode struct {
	op          byte
	left, right node
}

func (b binNode) eval(v float64) (float64, error) {
	l, err := b.left.eval(v)
	if err != nil {
		return 0, err
	}
	r, err := b.right.eval(v)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

type tokKind uint8

const (
	tokNumber tokKind = iota
	tokVar
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	val  float64
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) lex(src string) error {
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			// Exponent suffix, e.g. 1.5e-3.
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				k := j + 1
				if k < len(src) && (src[k] == '+' || src[k] == '-') {
					k++
				}
				digits := false
				for k < len(src) && src[k] >= '0' && src[k] <= '9' {
					k++
					digits = true
				}
				if digits {
					j = k
				}
			}
			text := src[i:j]
			val, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return fmt.Errorf("bad number %q", text)
			}
			p.toks = append(p.toks, token{kind: tokNumber, text: text, val: val})
			i = j
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '^':
			p.toks = append(p.toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			p.toks = append(p.toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			p.toks = append(p.toks, token{kind: tokRParen, text: ")"})
			i++
		case unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			name := src[i:j]
			if name != "v" {
				return fmt.Errorf("unknown symbol %q (only the variable v is allowed)", name)
			}
			p.toks = append(p.toks, token{kind: tokVar, text: name})
			i = j
		default:
			return fmt.Errorf("illegal character %q in formula", c)
		}
	}
	return nil
}

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

// precedence returns the binding power of an operator and whether it is
// right-associative. ^ binds tightest and associates right, matching
// conventional mathematical notation.
func precedence(op string) (prec int, rightAssoc bool) {
	switch op {
	case "+", "-":
		return 1, false
	case "*", "/":
		return 2, false
	case "^":
		return 3, true
	}
	return 0, false
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokOp {
		op := p.peek().text
		prec, rightAssoc := precedence(op)
		if prec < minPrec {
			break
		}
		p.next()
		nextMin := prec + 1
		if rightAssoc {
			nextMin = prec
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = binNode{op: op[0], left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	if p.done() {
		return nil, fmt.Errorf("unexpected end of formula")
	}
	t := p.next()
	switch t.kind {
	case tokNumber:
		return litNode(t.val), nil
	case tokVar:
		return varNode{}, nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return inner, nil
	case tokOp:
		// Unary signs bind looser than ^, so -v ^ 2 reads as -(v^2).
		switch t.text {
		case "-":
			operand, err := p.parseExpr(3)
			if err != nil {
				return nil, err
			}
			return negNode{operand: operand}, nil
		case "+":
			return p.parseExpr(3)
		}
	}
	return nil, fmt.Errorf("unexpected %q in formula", t.text)
}
