package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"omnibot/internal/domain"
)

// CalculatorTool evaluates arithmetic expressions. Input is restricted to a
// safe character set before evaluation; the evaluator itself is a small
// recursive-descent parser, so nothing is ever interpreted as code.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression (+, -, *, /, parentheses, decimals). Use for any math the user asks about."
}
func (t *CalculatorTool) SystemPrompt() string { return "" }

func (t *CalculatorTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"expression": {Type: "string", Description: "Arithmetic expression to evaluate, e.g. \"12*7\" or \"(3+4)/2\""},
		},
		[]string{"expression"},
	)
}

const calcAllowedChars = "0123456789.+-*/() "

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	expr := ArgString(args, "expression")
	if expr == "" {
		return nil, ErrMissing("expression")
	}
	for _, r := range expr {
		if !strings.ContainsRune(calcAllowedChars, r) {
			return nil, fmt.Errorf("unsupported character %q in expression", r)
		}
	}

	p := &exprParser{input: strings.ReplaceAll(expr, " ", "")}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected character at position %d", p.pos)
	}
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return nil, fmt.Errorf("expression does not evaluate to a finite number")
	}

	// Render integers without a trailing ".0" so the model echoes them cleanly.
	var result any = val
	if val == math.Trunc(val) && math.Abs(val) < 1e15 {
		result = int64(val)
	}
	return map[string]any{"result": result}, nil
}

// exprParser is a recursive-descent parser over +, -, *, /, parentheses and
// decimal literals, with standard precedence.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	}
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}
