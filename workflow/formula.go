package workflow

import (
	"fmt"
	"strings"
	"unicode"

	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"github.com/shopspring/decimal"
)

// Rule formulas are operator-edited data, so they are parsed into a small
// expression tree and evaluated by walking it. The grammar is deliberately
// closed: document references, numeric literals, + - * / and parentheses.
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/') factor)*
//	factor := '-' factor | number | ref | '(' expr ')'
//	ref    := ident '.' (ident | quoted)
//
// e.g. BalanceSheet.TotalAssets - (BalanceSheet.TotalLiabilities + BalanceSheet.TotalEquity)
// Quoted references allow spaces: IncomeStatement."Net Operating Income".

// RefResolver resolves a document reference against a line-item snapshot.
type RefResolver interface {
	ResolveRef(docType, account string) (decimal.Decimal, bool)
}

// UnresolvedRefError marks a reference absent from the snapshot. Rules that
// hit one fail closed with UNEVALUABLE rather than guessing a value.
type UnresolvedRefError struct {
	DocType string
	Account string
}

func (e *UnresolvedRefError) Error() string {
	return fmt.Sprintf("unresolved reference %s.%s", e.DocType, e.Account)
}

func (e *UnresolvedRefError) Unwrap() error { return utils.ErrInputDataMissing }

// FormulaExpr is a parsed formula node.
type FormulaExpr interface {
	Eval(r RefResolver) (decimal.Decimal, error)
	// Refs appends every reference in the subtree; used for diagnostics.
	Refs(out []FormulaRef) []FormulaRef
}

type FormulaRef struct {
	DocType string
	Account string
}

type numberExpr struct {
	value decimal.Decimal
}

func (n numberExpr) Eval(RefResolver) (decimal.Decimal, error) { return n.value, nil }
func (n numberExpr) Refs(out []FormulaRef) []FormulaRef        { return out }

type refExpr struct {
	docType string
	account string
}

func (n refExpr) Eval(r RefResolver) (decimal.Decimal, error) {
	v, ok := r.ResolveRef(n.docType, n.account)
	if !ok {
		return decimal.Zero, &UnresolvedRefError{DocType: n.docType, Account: n.account}
	}
	return v, nil
}

func (n refExpr) Refs(out []FormulaRef) []FormulaRef {
	return append(out, FormulaRef{DocType: n.docType, Account: n.account})
}

type negateExpr struct {
	operand FormulaExpr
}

func (n negateExpr) Eval(r RefResolver) (decimal.Decimal, error) {
	v, err := n.operand.Eval(r)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

func (n negateExpr) Refs(out []FormulaRef) []FormulaRef { return n.operand.Refs(out) }

type binaryExpr struct {
	op    byte // '+', '-', '*', '/'
	left  FormulaExpr
	right FormulaExpr
}

func (n binaryExpr) Eval(r RefResolver) (decimal.Decimal, error) {
	left, err := n.left.Eval(r)
	if err != nil {
		return decimal.Zero, err
	}
	right, err := n.right.Eval(r)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return left.Add(right), nil
	case '-':
		return left.Sub(right), nil
	case '*':
		return left.Mul(right), nil
	case '/':
		if right.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: division by zero", utils.ErrRuleEvaluation)
		}
		return left.Div(right), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown operator %q", utils.ErrRuleEvaluation, n.op)
}

func (n binaryExpr) Refs(out []FormulaRef) []FormulaRef {
	return n.right.Refs(n.left.Refs(out))
}

// ParseFormula parses the formula text once; the returned tree is immutable
// and safe for concurrent evaluation.
func ParseFormula(input string) (FormulaExpr, error) {
	p := &formulaParser{input: input}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRuleEvaluation, err)
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", utils.ErrRuleEvaluation, p.input[p.pos], p.pos)
	}
	return expr, nil
}

type formulaParser struct {
	input string
	pos   int
}

func (p *formulaParser) skipSpaces() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *formulaParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *formulaParser) parseExpr() (FormulaExpr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *formulaParser) parseTerm() (FormulaExpr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			break
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *formulaParser) parseFactor() (FormulaExpr, error) {
	p.skipSpaces()
	switch c := p.peek(); {
	case c == '-':
		p.pos++
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return negateExpr{operand: operand}, nil
	case c == '(':
		p.pos++
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return expr, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseRef()
	case c == 0:
		return nil, fmt.Errorf("unexpected end of formula")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", c, p.pos)
	}
}

func (p *formulaParser) parseNumber() (FormulaExpr, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == ',' {
			p.pos++
			continue
		}
		break
	}
	literal := strings.ReplaceAll(p.input[start:p.pos], ",", "")
	value, err := decimal.NewFromString(literal)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at position %d", literal, start)
	}
	return numberExpr{value: value}, nil
}

func (p *formulaParser) parseRef() (FormulaExpr, error) {
	docType := p.parseIdent()
	p.skipSpaces()
	if p.peek() != '.' {
		return nil, fmt.Errorf("reference %q missing '.' qualifier at position %d", docType, p.pos)
	}
	p.pos++
	p.skipSpaces()

	var account string
	if p.peek() == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.input) && p.input[p.pos] != '"' {
			p.pos++
		}
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("unterminated quoted account name at position %d", start)
		}
		account = p.input[start:p.pos]
		p.pos++
	} else if isIdentStart(p.peek()) {
		account = p.parseIdent()
	} else {
		return nil, fmt.Errorf("reference %q missing account name at position %d", docType, p.pos)
	}

	return refExpr{docType: docType, account: account}, nil
}

func (p *formulaParser) parseIdent() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if isIdentStart(c) || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
