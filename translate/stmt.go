// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package translate

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

type writer struct {
	b      strings.Builder
	indent int
}

func (w *writer) line(s string) {
	w.b.WriteString(strings.Repeat("\t", w.indent))
	w.b.WriteString(s)
	w.b.WriteString("\n")
}

func (w *writer) String() string {
	return w.b.String()
}

// assignOps maps Go assignment operators to C.
var assignOps = map[token.Token]string{
	token.ASSIGN:         "=",
	token.ADD_ASSIGN:     "+=",
	token.SUB_ASSIGN:     "-=",
	token.MUL_ASSIGN:     "*=",
	token.QUO_ASSIGN:     "/=",
	token.REM_ASSIGN:     "%=",
	token.AND_ASSIGN:     "&=",
	token.OR_ASSIGN:      "|=",
	token.XOR_ASSIGN:     "^=",
	token.SHL_ASSIGN:     "<<=",
	token.SHR_ASSIGN:     ">>=",
	token.AND_NOT_ASSIGN: "&= ~",
}

// stmts writes statements one level deeper than the current indentation.
func (t *translator) stmts(w *writer, list []ast.Stmt) {
	w.indent++
	for _, s := range list {
		t.stmt(w, s)
	}
	w.indent--
}

// block writes statements in a new scope.
func (t *translator) block(w *writer, list []ast.Stmt) {
	t.push()
	t.stmts(w, list)
	t.pop()
}

func (t *translator) stmt(w *writer, s ast.Stmt) {
	switch s := s.(type) {
	case *ast.EmptyStmt:
	case *ast.DeclStmt:
		t.declStmt(w, s)
	case *ast.AssignStmt, *ast.IncDecStmt, *ast.ExprStmt:
		if code := t.simple(s); code != "" {
			w.line(code + ";")
		}
	case *ast.ReturnStmt:
		t.returnStmt(w, s)
	case *ast.BlockStmt:
		w.line("{")
		t.block(w, s.List)
		w.line("}")
	case *ast.IfStmt:
		t.ifStmt(w, s)
	case *ast.ForStmt:
		t.forStmt(w, s)
	case *ast.RangeStmt:
		t.rangeStmt(w, s)
	case *ast.BranchStmt:
		if s.Label != nil || (s.Tok != token.BREAK && s.Tok != token.CONTINUE) {
			t.errorf(s.Pos(), "unsupported %s statement", s.Tok)
			return
		}
		w.line(s.Tok.String() + ";")
	default:
		t.errorf(s.Pos(), "unsupported statement %s", strings.TrimPrefix(fmt.Sprintf("%T", s), "*ast."))
	}
}

// simple returns the C code of a simple statement without its semicolon.
func (t *translator) simple(s ast.Stmt) string {
	switch s := s.(type) {
	case *ast.ExprStmt:
		call, ok := s.X.(*ast.CallExpr)
		if !ok {
			t.errorf(s.Pos(), "%s is not used", exprString(s.X))
			return ""
		}
		return t.call(call).code
	case *ast.IncDecStmt:
		x := t.lvalue(s.X)
		if x.typ.kind != invalidKind && !x.typ.isScalar() {
			t.errorf(s.Pos(), "invalid operation: %s%s", exprString(s.X), s.Tok)
		}
		return x.code + s.Tok.String()
	case *ast.AssignStmt:
		return t.assign(s)
	}
	t.errorf(s.Pos(), "unsupported statement %s", strings.TrimPrefix(fmt.Sprintf("%T", s), "*ast."))
	return ""
}

func (t *translator) assign(s *ast.AssignStmt) string {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		t.errorf(s.Pos(), "assignments are limited to one value")
		return ""
	}
	lhs, rhs := s.Lhs[0], s.Rhs[0]
	if s.Tok == token.DEFINE {
		id, ok := lhs.(*ast.Ident)
		if !ok {
			t.errorf(lhs.Pos(), "non-name %s on left side of :=", exprString(lhs))
			return ""
		}
		return t.declare(id, nil, rhs)
	}
	op, ok := assignOps[s.Tok]
	if !ok {
		t.errorf(s.Pos(), "unsupported assignment %s", s.Tok)
		return ""
	}
	v := t.expr(rhs)
	if id, ok := lhs.(*ast.Ident); ok && id.Name == "_" && s.Tok == token.ASSIGN {
		return "(void)(" + v.code + ")"
	}
	x := t.lvalue(lhs)
	if s.Tok != token.ASSIGN && x.typ.kind != invalidKind && !x.typ.isScalar() {
		t.errorf(s.Pos(), "invalid operation: operator %s not defined on %s", s.Tok, exprString(lhs))
	}
	t.checkValue(rhs, v)
	return x.code + " " + op + " " + v.code
}

// declare declares a variable given its type, its value, or both.
func (t *translator) declare(id *ast.Ident, typeExpr ast.Expr, valueExpr ast.Expr) string {
	var typ *ctype
	if typeExpr != nil {
		typ = t.typeOf(typeExpr)
	}
	init := ""
	if valueExpr != nil {
		v := t.expr(valueExpr)
		t.checkValue(valueExpr, v)
		if typ == nil {
			typ = v.typ
		}
		init = v.code
	}
	if typ.kind == fieldArrayKind {
		typ = t.errorf(id.Pos(), "cannot copy slice %s", exprString(valueExpr))
	}
	if init == "" {
		init = typ.zero()
	}
	t.define(id, &symbol{typ: typ})
	return typ.declare(id.Name) + " = " + init
}

// checkValue reports values that cannot be stored.
func (t *translator) checkValue(expr ast.Expr, v value) {
	if v.typ.kind == voidKind {
		t.errorf(expr.Pos(), "%s (no value) used as value", exprString(expr))
	}
}

func (t *translator) declStmt(w *writer, s *ast.DeclStmt) {
	decl := s.Decl.(*ast.GenDecl)
	switch decl.Tok {
	case token.VAR:
		for _, spec := range decl.Specs {
			vs := spec.(*ast.ValueSpec)
			if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
				t.errorf(vs.Pos(), "assignment mismatch: %d variables but %d values", len(vs.Names), len(vs.Values))
				continue
			}
			for i, id := range vs.Names {
				var val ast.Expr
				if len(vs.Values) > 0 {
					val = vs.Values[i]
				}
				w.line(t.declare(id, vs.Type, val) + ";")
			}
		}
	case token.CONST:
		for _, spec := range decl.Specs {
			vs := spec.(*ast.ValueSpec)
			if len(vs.Values) != len(vs.Names) {
				t.errorf(vs.Pos(), "constants must have a value")
				continue
			}
			for i, id := range vs.Names {
				w.line("const " + t.declareConst(id, vs.Type, vs.Values[i]) + ";")
			}
		}
	default:
		t.errorf(decl.Pos(), "unsupported %s declaration in a function", decl.Tok)
	}
}

func (t *translator) declareConst(id *ast.Ident, typeExpr, valueExpr ast.Expr) string {
	code := t.declare(id, typeExpr, valueExpr)
	sym := t.lookup(id.Name)
	if lit, ok := valueExpr.(*ast.BasicLit); ok && lit.Kind == token.INT && sym.typ.isInteger() {
		sym.value, sym.isConst = t.constInt(lit)
	}
	return code
}

func (t *translator) returnStmt(w *writer, s *ast.ReturnStmt) {
	switch {
	case len(s.Results) > 1:
		t.errorf(s.Pos(), "too many return values")
	case t.fn.result.kind == voidKind && len(s.Results) == 1:
		t.errorf(s.Pos(), "too many return values")
	case t.fn.result.kind != voidKind && len(s.Results) == 0:
		t.errorf(s.Pos(), "not enough return values")
	case len(s.Results) == 0:
		w.line("return;")
	default:
		v := t.expr(s.Results[0])
		t.checkValue(s.Results[0], v)
		w.line("return " + v.code + ";")
	}
}

func (t *translator) ifStmt(w *writer, s *ast.IfStmt) {
	if s.Init == nil {
		t.ifChain(w, s, "if")
		return
	}
	w.line("{")
	w.indent++
	t.push()
	if code := t.simple(s.Init); code != "" {
		w.line(code + ";")
	}
	t.ifChain(w, s, "if")
	t.pop()
	w.indent--
	w.line("}")
}

func (t *translator) ifChain(w *writer, s *ast.IfStmt, head string) {
	w.line(head + " (" + t.cond(s.Cond) + ") {")
	t.block(w, s.Body.List)
	switch els := s.Else.(type) {
	case nil:
		w.line("}")
	case *ast.IfStmt:
		if els.Init == nil {
			t.ifChain(w, els, "} else if")
			return
		}
		w.line("} else {")
		w.indent++
		t.ifStmt(w, els)
		w.indent--
		w.line("}")
	case *ast.BlockStmt:
		w.line("} else {")
		t.block(w, els.List)
		w.line("}")
	}
}

// cond returns the C code of a condition.
func (t *translator) cond(expr ast.Expr) string {
	v := t.expr(expr)
	if v.typ.kind != invalidKind && !v.typ.isScalar() {
		t.errorf(expr.Pos(), "non-boolean condition %s", exprString(expr))
	}
	return v.code
}

func (t *translator) forStmt(w *writer, s *ast.ForStmt) {
	t.push()
	defer t.pop()
	switch {
	case s.Init == nil && s.Post == nil && s.Cond != nil:
		w.line("while (" + t.cond(s.Cond) + ") {")
	case s.Init == nil && s.Post == nil && s.Cond == nil:
		w.line("for (;;) {")
	default:
		var init, cond, post string
		if s.Init != nil {
			init = t.simple(s.Init)
		}
		if s.Cond != nil {
			cond = t.cond(s.Cond)
		}
		if s.Post != nil {
			post = t.simple(s.Post)
		}
		w.line("for (" + init + "; " + cond + "; " + post + ") {")
	}
	t.block(w, s.Body.List)
	w.line("}")
}

// rangeStmt writes a loop ranging over an integer.
func (t *translator) rangeStmt(w *writer, s *ast.RangeStmt) {
	n := t.expr(s.X)
	if n.typ.kind != invalidKind && !n.typ.isInteger() {
		t.errorf(s.X.Pos(), "cannot range over %s", exprString(s.X))
		return
	}
	key, ok := s.Key.(*ast.Ident)
	if !ok || s.Value != nil || s.Tok != token.DEFINE {
		t.errorf(s.Pos(), "range loops must declare one loop variable")
		return
	}
	t.push()
	defer t.pop()
	typ := n.typ
	if n.untyped {
		typ = integer
	}
	t.define(key, &symbol{typ: typ})
	w.line(fmt.Sprintf("for (%s = 0; %s < %s; %s++) {", typ.declare(key.Name), key.Name, n.operand(), key.Name))
	t.block(w, s.Body.List)
	w.line("}")
}
