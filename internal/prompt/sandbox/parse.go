package sandbox

import (
	"fmt"
	"strconv"
)

// Template nodes.
type (
	node interface{ nodePos() int }

	textNode struct {
		pos  int
		text string
	}

	outputNode struct {
		pos  int
		expr expr
	}

	ifNode struct {
		pos      int
		branches []condBranch
		elseBody []node
	}

	condBranch struct {
		cond expr
		body []node
	}

	forNode struct {
		pos      int
		varName  string
		seq      expr
		body     []node
		elseBody []node
	}
)

func (n *textNode) nodePos() int   { return n.pos }
func (n *outputNode) nodePos() int { return n.pos }
func (n *ifNode) nodePos() int     { return n.pos }
func (n *forNode) nodePos() int    { return n.pos }

// Expression nodes. There is no call or attribute node: lookups only index
// plain maps and slices, so the grammar cannot reach Go values.
type (
	expr interface{ exprPos() int }

	literalExpr struct {
		pos   int
		value any
	}

	// pathExpr resolves root then walks each step as a map key or slice index.
	pathExpr struct {
		pos   int
		root  string
		steps []expr
	}

	filterExpr struct {
		pos   int
		input expr
		name  string
		args  []expr
	}

	notExpr struct {
		pos     int
		operand expr
	}

	binaryExpr struct {
		pos         int
		op          string // and, or, ==, !=, in, not in
		left, right expr
	}
)

func (e *literalExpr) exprPos() int { return e.pos }
func (e *pathExpr) exprPos() int    { return e.pos }
func (e *filterExpr) exprPos() int  { return e.pos }
func (e *notExpr) exprPos() int     { return e.pos }
func (e *binaryExpr) exprPos() int  { return e.pos }

// parser builds a node tree from template segments.
type parser struct {
	segs    []segment
	i       int
	filters map[string]Filter
}

func parse(src string, filters map[string]Filter) ([]node, error) {
	p := &parser{segs: splitSegments(src), filters: filters}
	nodes, stop, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, &SyntaxError{Offset: stop.offset, Msg: fmt.Sprintf("unexpected {%% %s %%}", stop.keyword)}
	}
	return nodes, nil
}

// stopTag is the block-delimiting statement that ended a body.
type stopTag struct {
	keyword string
	toks    []token
	offset  int
}

// parseBody parses nodes until EOF or one of the stop keywords. It returns the
// stop tag that ended the body, or nil at EOF.
func (p *parser) parseBody(stops ...string) ([]node, *stopTag, error) {
	var nodes []node
	for p.i < len(p.segs) {
		seg := p.segs[p.i]
		p.i++

		if !seg.closed {
			return nil, nil, &SyntaxError{Offset: seg.offset - 2, Msg: "unclosed tag"}
		}

		switch seg.kind {
		case segText:
			nodes = append(nodes, &textNode{pos: seg.offset, text: seg.body})
		case segComment:
		case segOutput:
			toks := lexExpr(seg.body, seg.offset)
			e, err := p.parseFullExpr(toks)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, &outputNode{pos: seg.offset, expr: e})
		case segStatement:
			toks := lexExpr(seg.body, seg.offset)
			head := toks[0]
			if head.kind != tokIdent {
				return nil, nil, &SyntaxError{Offset: seg.offset, Msg: "expected statement keyword"}
			}
			for _, s := range stops {
				if head.val == s {
					return nodes, &stopTag{keyword: s, toks: toks[1:], offset: seg.offset}, nil
				}
			}
			var (
				n   node
				err error
			)
			switch head.val {
			case "if":
				n, err = p.parseIf(toks[1:], seg.offset)
			case "for":
				n, err = p.parseFor(toks[1:], seg.offset)
			case "elif", "else", "endif", "endfor":
				err = &SyntaxError{Offset: seg.offset, Msg: fmt.Sprintf("unexpected {%% %s %%}", head.val)}
			default:
				err = &SyntaxError{Offset: seg.offset, Msg: fmt.Sprintf("unknown statement %q", head.val)}
			}
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, n)
		}
	}
	if len(stops) > 0 {
		return nil, nil, &SyntaxError{Offset: p.endOffset(), Msg: fmt.Sprintf("missing {%% %s %%}", stops[len(stops)-1])}
	}
	return nodes, nil, nil
}

func (p *parser) endOffset() int {
	if len(p.segs) == 0 {
		return 0
	}
	last := p.segs[len(p.segs)-1]
	return last.offset + len(last.body)
}

func (p *parser) parseIf(condToks []token, offset int) (node, error) {
	n := &ifNode{pos: offset}
	for {
		cond, err := p.parseFullExpr(condToks)
		if err != nil {
			return nil, err
		}
		body, stop, err := p.parseBody("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, condBranch{cond: cond, body: body})

		switch stop.keyword {
		case "elif":
			condToks = stop.toks
			continue
		case "else":
			if err := expectEnd(stop); err != nil {
				return nil, err
			}
			n.elseBody, stop, err = p.parseBody("endif")
			if err != nil {
				return nil, err
			}
		}
		return n, expectEnd(stop)
	}
}

func (p *parser) parseFor(toks []token, offset int) (node, error) {
	if len(toks) < 3 || toks[0].kind != tokIdent || !toks[1].is(tokIdent, "in") {
		return nil, &SyntaxError{Offset: offset, Msg: "expected {% for name in expression %}"}
	}
	seq, err := p.parseFullExpr(toks[2:])
	if err != nil {
		return nil, err
	}

	n := &forNode{pos: offset, varName: toks[0].val, seq: seq}
	var stop *stopTag
	n.body, stop, err = p.parseBody("else", "endfor")
	if err != nil {
		return nil, err
	}
	if stop.keyword == "else" {
		if err := expectEnd(stop); err != nil {
			return nil, err
		}
		if n.elseBody, stop, err = p.parseBody("endfor"); err != nil {
			return nil, err
		}
	}
	return n, expectEnd(stop)
}

func expectEnd(stop *stopTag) error {
	if stop.toks[0].kind != tokEOF {
		return &SyntaxError{Offset: stop.toks[0].pos, Msg: fmt.Sprintf("unexpected %q after %s", stop.toks[0].val, stop.keyword)}
	}
	return nil
}

// parseFullExpr parses toks as a single expression that must consume every
// token.
func (p *parser) parseFullExpr(toks []token) (expr, error) {
	ep := &exprParser{toks: toks, filters: p.filters}
	if ep.peek().kind == tokEOF {
		return nil, &SyntaxError{Offset: ep.peek().pos, Msg: "empty expression"}
	}
	e, err := ep.parseOr()
	if err != nil {
		return nil, err
	}
	if t := ep.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("unexpected %q", t.val)}
	}
	return e, nil
}

type exprParser struct {
	toks    []token
	i       int
	filters map[string]Filter
}

func (ep *exprParser) peek() token { return ep.toks[ep.i] }

func (ep *exprParser) next() token {
	t := ep.toks[ep.i]
	if t.kind != tokEOF {
		ep.i++
	}
	return t
}

func (ep *exprParser) accept(kind tokenKind, val string) bool {
	if ep.peek().is(kind, val) {
		ep.i++
		return true
	}
	return false
}

func (ep *exprParser) expect(val string) error {
	if t := ep.next(); !t.is(tokPunct, val) {
		return &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("expected %q, got %q", val, t.val)}
	}
	return nil
}

func (ep *exprParser) parseOr() (expr, error) {
	left, err := ep.parseAnd()
	if err != nil {
		return nil, err
	}
	for ep.peek().is(tokIdent, "or") {
		pos := ep.next().pos
		right, err := ep.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{pos: pos, op: "or", left: left, right: right}
	}
	return left, nil
}

func (ep *exprParser) parseAnd() (expr, error) {
	left, err := ep.parseNot()
	if err != nil {
		return nil, err
	}
	for ep.peek().is(tokIdent, "and") {
		pos := ep.next().pos
		right, err := ep.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{pos: pos, op: "and", left: left, right: right}
	}
	return left, nil
}

func (ep *exprParser) parseNot() (expr, error) {
	if ep.peek().is(tokIdent, "not") {
		pos := ep.next().pos
		operand, err := ep.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{pos: pos, operand: operand}, nil
	}
	return ep.parseCompare()
}

func (ep *exprParser) parseCompare() (expr, error) {
	left, err := ep.parseFiltered()
	if err != nil {
		return nil, err
	}

	t := ep.peek()
	var op string
	switch {
	case t.is(tokPunct, "=="), t.is(tokPunct, "!="), t.is(tokIdent, "in"):
		op = t.val
		ep.next()
	case t.is(tokIdent, "not") && ep.toks[ep.i+1].is(tokIdent, "in"):
		op = "not in"
		ep.next()
		ep.next()
	default:
		return left, nil
	}

	right, err := ep.parseFiltered()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{pos: t.pos, op: op, left: left, right: right}, nil
}

func (ep *exprParser) parseFiltered() (expr, error) {
	e, err := ep.parsePrimary()
	if err != nil {
		return nil, err
	}
	for ep.accept(tokPunct, "|") {
		name := ep.next()
		if name.kind != tokIdent {
			return nil, &SyntaxError{Offset: name.pos, Msg: "expected filter name"}
		}
		if _, ok := ep.filters[name.val]; !ok {
			return nil, &SyntaxError{Offset: name.pos, Msg: fmt.Sprintf("unknown filter %q", name.val)}
		}
		f := &filterExpr{pos: name.pos, input: e, name: name.val}
		if ep.accept(tokPunct, "(") {
			if f.args, err = ep.parseArgs(); err != nil {
				return nil, err
			}
		}
		e = f
	}
	return e, nil
}

func (ep *exprParser) parseArgs() ([]expr, error) {
	var args []expr
	if ep.accept(tokPunct, ")") {
		return args, nil
	}
	for {
		arg, err := ep.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if ep.accept(tokPunct, ")") {
			return args, nil
		}
		if err := ep.expect(","); err != nil {
			return nil, err
		}
	}
}

func (ep *exprParser) parsePrimary() (expr, error) {
	t := ep.next()
	switch t.kind {
	case tokString:
		return &literalExpr{pos: t.pos, value: t.val}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("invalid number %q", t.val)}
		}
		return &literalExpr{pos: t.pos, value: f}, nil
	case tokIdent:
		switch t.val {
		case "true", "True":
			return &literalExpr{pos: t.pos, value: true}, nil
		case "false", "False":
			return &literalExpr{pos: t.pos, value: false}, nil
		case "none", "None", "null":
			return &literalExpr{pos: t.pos, value: nil}, nil
		case "and", "or", "not", "in":
			return nil, &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("unexpected keyword %q", t.val)}
		}
		return ep.parsePath(t)
	case tokPunct:
		if t.val == "(" {
			e, err := ep.parseOr()
			if err != nil {
				return nil, err
			}
			return e, ep.expect(")")
		}
	case tokIllegal:
		return nil, &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("illegal character or unterminated string %q", t.val)}
	case tokEOF:
		return nil, &SyntaxError{Offset: t.pos, Msg: "unexpected end of expression"}
	}
	return nil, &SyntaxError{Offset: t.pos, Msg: fmt.Sprintf("unexpected %q", t.val)}
}

func (ep *exprParser) parsePath(root token) (expr, error) {
	path := &pathExpr{pos: root.pos, root: root.val}
	for {
		switch {
		case ep.accept(tokPunct, "."):
			key := ep.next()
			switch key.kind {
			case tokIdent:
				path.steps = append(path.steps, &literalExpr{pos: key.pos, value: key.val})
			case tokNumber:
				idx, err := strconv.ParseFloat(key.val, 64)
				if err != nil {
					return nil, &SyntaxError{Offset: key.pos, Msg: fmt.Sprintf("invalid index %q", key.val)}
				}
				path.steps = append(path.steps, &literalExpr{pos: key.pos, value: idx})
			default:
				return nil, &SyntaxError{Offset: key.pos, Msg: "expected key after '.'"}
			}
		case ep.accept(tokPunct, "["):
			idx, err := ep.parseOr()
			if err != nil {
				return nil, err
			}
			if err := ep.expect("]"); err != nil {
				return nil, err
			}
			path.steps = append(path.steps, idx)
		case ep.peek().is(tokPunct, "("):
			return nil, &SyntaxError{Offset: ep.peek().pos, Msg: fmt.Sprintf("calling %q is not supported", root.val)}
		default:
			return path, nil
		}
	}
}
