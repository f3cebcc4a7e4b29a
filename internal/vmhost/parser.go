package vmhost

import "fmt"

type parser struct {
	toks []token
	pos  int
}

// Parse compiles source text into a statement list (a chunk). It backs
// both expression evaluation and script loading, and is deliberately
// minimal: the language surface itself is not part of the bridge's
// contract.
func Parse(src string) ([]Stmt, error) {
	lx := newLexer(src)
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.block()
}

// ParseExpr compiles a single expression, used by the Evaluator's
// "return <expr>" fast path.
func ParseExpr(src string) (Expr, error) {
	lx := newLexer(src)
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) line() int   { return p.cur().line }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) isSymbol(sym string) bool {
	t := p.cur()
	return t.kind == tokSymbol && t.text == sym
}

func (p *parser) expectSymbol(sym string) error {
	if !p.isSymbol(sym) {
		return fmt.Errorf("line %d: expected %q, got %q", p.line(), sym, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return fmt.Errorf("line %d: expected %q, got %q", p.line(), kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) blockEnd() bool {
	t := p.cur()
	if t.kind == tokEOF {
		return true
	}
	if t.kind == tokKeyword {
		switch t.text {
		case "end", "else", "elseif":
			return true
		}
	}
	return false
}

func (p *parser) block() ([]Stmt, error) {
	var stmts []Stmt
	for !p.blockEnd() {
		if p.isSymbol(";") {
			p.advance()
			continue
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if _, ok := s.(*ReturnStmt); ok {
			break
		}
	}
	return stmts, nil
}

func (p *parser) statement() (Stmt, error) {
	ln := p.line()
	switch {
	case p.isKeyword("local"):
		p.advance()
		var names []string
		for {
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("line %d: expected identifier", p.line())
			}
			names = append(names, p.advance().text)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		var exprs []Expr
		if p.isSymbol("=") {
			p.advance()
			var err error
			exprs, err = p.exprList()
			if err != nil {
				return nil, err
			}
		}
		return &LocalStmt{base{ln}, names, exprs}, nil

	case p.isKeyword("if"):
		return p.ifStmt()

	case p.isKeyword("while"):
		p.advance()
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("do"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		return &WhileStmt{base{ln}, cond, body}, nil

	case p.isKeyword("for"):
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("line %d: expected loop variable", p.line())
		}
		name := p.advance().text
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		start, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(","); err != nil {
			return nil, err
		}
		stop, err := p.expr()
		if err != nil {
			return nil, err
		}
		var step Expr = &NumberLit{base{ln}, 1}
		if p.isSymbol(",") {
			p.advance()
			step, err = p.expr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("do"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		return &NumericForStmt{base{ln}, name, start, stop, step, body}, nil

	case p.isKeyword("function"):
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("line %d: expected function name", p.line())
		}
		name := p.advance().text
		fn, err := p.funcBody(ln, name)
		if err != nil {
			return nil, err
		}
		return &FuncDeclStmt{base{ln}, name, fn}, nil

	case p.isKeyword("return"):
		p.advance()
		var exprs []Expr
		if !p.blockEnd() && !p.isSymbol(";") {
			var err error
			exprs, err = p.exprList()
			if err != nil {
				return nil, err
			}
		}
		return &ReturnStmt{base{ln}, exprs}, nil

	case p.isKeyword("break"):
		p.advance()
		return &BreakStmt{base{ln}}, nil

	case p.isKeyword("do"):
		p.advance()
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		return &IfStmt{base{ln}, &BoolLit{base{ln}, true}, body, nil}, nil

	default:
		return p.exprOrAssignStmt(ln)
	}
}

func (p *parser) ifStmt() (Stmt, error) {
	ln := p.line()
	p.advance() // if / elseif
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	thenBody, err := p.block()
	if err != nil {
		return nil, err
	}
	var elseBody []Stmt
	if p.isKeyword("elseif") {
		s, err := p.ifStmt()
		if err != nil {
			return nil, err
		}
		elseBody = []Stmt{s}
		return &IfStmt{base{ln}, cond, thenBody, elseBody}, nil
	}
	if p.isKeyword("else") {
		p.advance()
		elseBody, err = p.block()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &IfStmt{base{ln}, cond, thenBody, elseBody}, nil
}

func (p *parser) funcBody(ln int, name string) (*FuncLit, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var params []string
	vararg := false
	for !p.isSymbol(")") {
		if p.isSymbol("...") {
			vararg = true
			p.advance()
			break
		}
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("line %d: expected parameter name", p.line())
		}
		params = append(params, p.advance().text)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &FuncLit{base{ln}, params, vararg, body, name}, nil
}

func (p *parser) exprOrAssignStmt(ln int) (Stmt, error) {
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if p.isSymbol("=") || p.isSymbol(",") {
		targets := []Expr{first}
		for p.isSymbol(",") {
			p.advance()
			t, err := p.suffixedExpr()
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		exprs, err := p.exprList()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{base{ln}, targets, exprs}, nil
	}
	return &ExprStmt{base{ln}, first}, nil
}

func (p *parser) exprList() ([]Expr, error) {
	var out []Expr
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

// Precedence climbing for binary operators, lowest to highest.
var precedence = map[string]int{
	"or": 1, "and": 2,
	"==": 3, "~=": 3, "<": 3, ">": 3, "<=": 3, ">=": 3,
	"..": 4,
	"+":  5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

func (p *parser) expr() (Expr, error) { return p.binExpr(0) }

func (p *parser) binExpr(minPrec int) (Expr, error) {
	left, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekBinOp()
		if !ok {
			break
		}
		prec := precedence[op]
		if prec < minPrec {
			break
		}
		ln := p.line()
		p.advance()
		right, err := p.binExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{base{ln}, op, left, right}
	}
	return left, nil
}

func (p *parser) peekBinOp() (string, bool) {
	t := p.cur()
	if t.kind == tokKeyword && (t.text == "and" || t.text == "or") {
		return t.text, true
	}
	if t.kind == tokSymbol {
		if _, ok := precedence[t.text]; ok {
			return t.text, true
		}
	}
	return "", false
}

func (p *parser) unaryExpr() (Expr, error) {
	ln := p.line()
	if p.isKeyword("not") || p.isSymbol("-") {
		op := p.advance().text
		operand, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{base{ln}, op, operand}, nil
	}
	return p.suffixedExpr()
}

func (p *parser) suffixedExpr() (Expr, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		ln := p.line()
		switch {
		case p.isSymbol("."):
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("line %d: expected field name", p.line())
			}
			name := p.advance().text
			e = &IndexExpr{base{ln}, e, &StringLit{base{ln}, name}}
		case p.isSymbol("["):
			p.advance()
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			e = &IndexExpr{base{ln}, e, key}
		case p.isSymbol(":"):
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("line %d: expected method name", p.line())
			}
			name := p.advance().text
			method := &IndexExpr{base{ln}, e, &StringLit{base{ln}, name}}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{base{ln}, method, append([]Expr{e}, args...)}
		case p.isSymbol("("):
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{base{ln}, e, args}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArgs() ([]Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var args []Expr
	for !p.isSymbol(")") {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) primaryExpr() (Expr, error) {
	t := p.cur()
	ln := t.line
	switch {
	case t.kind == tokNumber:
		p.advance()
		return &NumberLit{base{ln}, t.num}, nil
	case t.kind == tokString:
		p.advance()
		return &StringLit{base{ln}, t.text}, nil
	case t.kind == tokIdent:
		p.advance()
		return &Ident{base{ln}, t.text}, nil
	case t.kind == tokKeyword && t.text == "nil":
		p.advance()
		return &NilLit{base{ln}}, nil
	case t.kind == tokKeyword && (t.text == "true" || t.text == "false"):
		p.advance()
		return &BoolLit{base{ln}, t.text == "true"}, nil
	case t.kind == tokKeyword && t.text == "function":
		p.advance()
		return p.funcBody(ln, "")
	case p.isSymbol("("):
		p.advance()
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isSymbol("{"):
		return p.tableLit()
	default:
		return nil, fmt.Errorf("line %d: unexpected token %q", ln, t.text)
	}
}

func (p *parser) tableLit() (Expr, error) {
	ln := p.line()
	p.advance() // {
	tl := &TableLit{base: base{ln}}
	for !p.isSymbol("}") {
		if p.isSymbol("[") {
			p.advance()
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("="); err != nil {
				return nil, err
			}
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			tl.Keys = append(tl.Keys, key)
			tl.Values = append(tl.Values, val)
		} else if p.cur().kind == tokIdent && p.toks[p.pos+1].kind == tokSymbol && p.toks[p.pos+1].text == "=" {
			name := p.advance().text
			p.advance() // =
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			tl.Keys = append(tl.Keys, &StringLit{base{ln}, name})
			tl.Values = append(tl.Values, val)
		} else {
			val, err := p.expr()
			if err != nil {
				return nil, err
			}
			tl.ArrayItems = append(tl.ArrayItems, val)
		}
		if p.isSymbol(",") || p.isSymbol(";") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return tl, nil
}
