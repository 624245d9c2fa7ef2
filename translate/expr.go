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
	"go/types"
	"math"
	"strconv"
	"strings"
)

// value is the C code of an expression with its type.
type value struct {
	code    string
	typ     *ctype
	// untyped is set for numeric constants without a type.
	untyped bool
	// binary is set when the code is a binary operation.
	binary  bool
}

// operand returns the code of the value as the operand of an operator.
func (v value) operand() string {
	if v.binary {
		return "(" + v.code + ")"
	}
	return v.code
}

func exprString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}
	return types.ExprString(expr)
}

func (t *translator) fail(pos token.Pos, format string, args ...any) value {
	return value{code: "0", typ: t.errorf(pos, format, args...)}
}

type builtin struct {
	name  string
	arity int
}

var (
	binaryOps = map[token.Token]bool{
		token.ADD: true, token.SUB: true, token.MUL: true, token.QUO: true, token.REM: true,
		token.AND: true, token.OR: true, token.XOR: true, token.SHL: true, token.SHR: true,
		token.AND_NOT: true, token.LAND: true, token.LOR: true,
		token.EQL: true, token.NEQ: true, token.LSS: true, token.LEQ: true, token.GTR: true, token.GEQ: true,
	}

	integerOps = map[token.Token]bool{
		token.REM: true, token.AND: true, token.OR: true, token.XOR: true,
		token.SHL: true, token.SHR: true, token.AND_NOT: true,
	}

	unaryOps = map[token.Token]string{
		token.SUB: "-",
		token.ADD: "+",
		token.NOT: "!",
		token.XOR: "~",
	}

	workItemFuncs = map[string]string{
		"GlobalID":   "get_global_id",
		"GlobalSize": "get_global_size",
		"LocalID":    "get_local_id",
		"LocalSize":  "get_local_size",
		"GroupID":    "get_group_id",
		"NumGroups":  "get_num_groups",
	}

	mathFuncs = map[string]builtin{
		"Abs":   {"fabs", 1},
		"Acos":  {"acos", 1},
		"Asin":  {"asin", 1},
		"Atan":  {"atan", 1},
		"Atan2": {"atan2", 2},
		"Cbrt":  {"cbrt", 1},
		"Ceil":  {"ceil", 1},
		"Cos":   {"cos", 1},
		"Cosh":  {"cosh", 1},
		"Exp":   {"exp", 1},
		"Exp2":  {"exp2", 1},
		"FMA":   {"fma", 3},
		"Floor": {"floor", 1},
		"Hypot": {"hypot", 2},
		"Log":   {"log", 1},
		"Log10": {"log10", 1},
		"Log2":  {"log2", 1},
		"Max":   {"fmax", 2},
		"Min":   {"fmin", 2},
		"Mod":   {"fmod", 2},
		"Pow":   {"pow", 2},
		"Round": {"round", 1},
		"Sin":   {"sin", 1},
		"Sinh":  {"sinh", 1},
		"Sqrt":  {"sqrt", 1},
		"Tan":   {"tan", 1},
		"Tanh":  {"tanh", 1},
		"Trunc": {"trunc", 1},
	}

	mathConsts = map[string]value{
		"E":          {code: "M_E", typ: double, untyped: true},
		"Ln2":        {code: "M_LN2", typ: double, untyped: true},
		"Ln10":       {code: "M_LN10", typ: double, untyped: true},
		"Log2E":      {code: "M_LOG2E", typ: double, untyped: true},
		"Log10E":     {code: "M_LOG10E", typ: double, untyped: true},
		"Pi":         {code: "M_PI", typ: double, untyped: true},
		"Sqrt2":      {code: "M_SQRT2", typ: double, untyped: true},
		"MaxFloat32": {code: "FLT_MAX", typ: double, untyped: true},
		"MaxFloat64": {code: "DBL_MAX", typ: double, untyped: true},
		"MaxInt32":   {code: "INT_MAX", typ: integer, untyped: true},
		"MinInt32":   {code: "INT_MIN", typ: integer, untyped: true},
	}
)

func (t *translator) expr(expr ast.Expr) value {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return t.literal(e)
	case *ast.Ident:
		return t.ident(e)
	case *ast.ParenExpr:
		v := t.expr(e.X)
		v.code = "(" + v.code + ")"
		v.binary = false
		return v
	case *ast.UnaryExpr:
		return t.unary(e)
	case *ast.BinaryExpr:
		return t.binary(e)
	case *ast.IndexExpr:
		return t.index(e)
	case *ast.SelectorExpr:
		return t.selector(e)
	case *ast.CallExpr:
		return t.call(e)
	case *ast.StarExpr:
		x := t.expr(e.X)
		if x.typ.kind == invalidKind {
			return x
		}
		if x.typ.kind != globalKind {
			return t.fail(e.Pos(), "invalid operation: cannot indirect %s", exprString(e.X))
		}
		return value{code: "(*" + x.code + ")", typ: x.typ.elem.withRoot(x.typ.root)}
	}
	return t.fail(expr.Pos(), "unsupported expression %s", exprString(expr))
}

// lvalue returns the value of an expression assigned to.
func (t *translator) lvalue(expr ast.Expr) value {
	switch e := expr.(type) {
	case *ast.Ident, *ast.IndexExpr, *ast.SelectorExpr, *ast.StarExpr:
		v := t.expr(e)
		if id, ok := e.(*ast.Ident); ok {
			if sym := t.lookup(id.Name); sym != nil && sym.isConst {
				return t.fail(e.Pos(), "cannot assign to constant %s", id.Name)
			}
		}
		return v
	case *ast.ParenExpr:
		return t.lvalue(e.X)
	}
	return t.fail(expr.Pos(), "cannot assign to %s", exprString(expr))
}

func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (t *translator) literal(lit *ast.BasicLit) value {
	switch lit.Kind {
	case token.INT:
		v, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return t.fail(lit.Pos(), "invalid integer constant %s", lit.Value)
		}
		typ := integer
		if v > math.MaxInt32 || v < math.MinInt32 {
			typ = scalar("long")
		}
		return value{code: strconv.FormatInt(v, 10), typ: typ, untyped: true}
	case token.FLOAT:
		f, err := strconv.ParseFloat(strings.ReplaceAll(lit.Value, "_", ""), 64)
		if err != nil {
			return t.fail(lit.Pos(), "invalid floating-point constant %s", lit.Value)
		}
		return value{code: floatLiteral(f), typ: double, untyped: true}
	}
	return t.fail(lit.Pos(), "unsupported literal %s", lit.Value)
}

func (t *translator) ident(id *ast.Ident) value {
	switch id.Name {
	case "true", "false":
		if t.lookup(id.Name) == nil {
			return value{code: id.Name, typ: boolean}
		}
	case "_":
		return t.fail(id.Pos(), "cannot use _ as value")
	}
	sym := t.lookup(id.Name)
	if sym == nil {
		return t.fail(id.Pos(), "undefined: %s", id.Name)
	}
	return value{code: id.Name, typ: sym.typ}
}

func (t *translator) unary(e *ast.UnaryExpr) value {
	op, ok := unaryOps[e.Op]
	if !ok {
		return t.fail(e.Pos(), "unsupported operator %s", e.Op)
	}
	x := t.expr(e.X)
	if x.typ.kind == invalidKind {
		return x
	}
	if !x.typ.isScalar() {
		return t.fail(e.Pos(), "invalid operation: operator %s not defined on %s", e.Op, exprString(e.X))
	}
	code := x.operand()
	if strings.HasPrefix(code, "-") || strings.HasPrefix(code, "+") {
		code = "(" + code + ")"
	}
	typ := x.typ
	if e.Op == token.NOT {
		typ = boolean
	}
	return value{code: op + code, typ: typ, untyped: x.untyped}
}

func (t *translator) binary(e *ast.BinaryExpr) value {
	if !binaryOps[e.Op] {
		return t.fail(e.OpPos, "unsupported operator %s", e.Op)
	}
	x, y := t.expr(e.X), t.expr(e.Y)
	if x.typ.kind == invalidKind || y.typ.kind == invalidKind {
		return value{code: "0", typ: invalid}
	}
	if !x.typ.isScalar() || !y.typ.isScalar() {
		return t.fail(e.OpPos, "invalid operation: operator %s not defined on %s", e.Op, exprString(e))
	}
	if integerOps[e.Op] && (x.typ.isFloat() || y.typ.isFloat()) {
		return t.fail(e.OpPos, "invalid operation: operator %s not defined on floating-point values", e.Op)
	}
	code := x.operand() + " " + e.Op.String() + " " + y.operand()
	if e.Op == token.AND_NOT {
		code = x.operand() + " & ~" + y.operand()
	}
	v := value{code: code, binary: true}
	switch e.Op {
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ, token.LAND, token.LOR:
		v.typ = boolean
	case token.SHL, token.SHR:
		v.typ, v.untyped = x.typ, x.untyped
	default:
		var ok bool
		if v.typ, v.untyped, ok = binaryType(x, y); !ok {
			return t.fail(e.OpPos, "invalid operation: %s (constant truncated to integer)", exprString(e))
		}
	}
	return v
}

// binaryType returns the type of an arithmetic operation on two values.
func binaryType(x, y value) (*ctype, bool, bool) {
	switch {
	case x.untyped && y.untyped:
		if y.typ.isFloat() {
			return y.typ, true, true
		}
		return x.typ, true, true
	case x.untyped:
		return y.typ, false, !(x.typ.isFloat() && y.typ.isInteger())
	case y.untyped:
		return x.typ, false, !(y.typ.isFloat() && x.typ.isInteger())
	case y.typ.isFloat() && !x.typ.isFloat(), y.typ.name == "double" && x.typ.name == "float":
		return y.typ, false, true
	}
	return x.typ, false, true
}

func (t *translator) index(e *ast.IndexExpr) value {
	x, i := t.expr(e.X), t.expr(e.Index)
	if x.typ.kind == invalidKind || i.typ.kind == invalidKind {
		return value{code: "0", typ: invalid}
	}
	if !i.typ.isInteger() {
		return t.fail(e.Index.Pos(), "invalid argument: index %s must be an integer", exprString(e.Index))
	}
	idx := "[(size_t)(" + i.code + ")]"
	switch x.typ.kind {
	case localKind:
		if n, err := strconv.Atoi(i.code); err == nil && i.untyped && (n < 0 || n >= x.typ.n) {
			return t.fail(e.Index.Pos(), "invalid argument: index %d out of bounds [0:%d]", n, x.typ.n)
		}
		return value{code: x.code + idx, typ: x.typ.elem.withRoot(x.typ.root)}
	case globalKind:
		return value{code: x.code + idx, typ: x.typ.elem.withRoot(x.typ.root)}
	case fieldArrayKind:
		switch {
		case x.typ.elem == nil:
			return t.fail(e.X.Pos(), "element type of %s is unknown", exprString(e.X))
		case x.typ.root == "":
			return t.fail(e.X.Pos(), "%s is not stored in a kernel argument", exprString(e.X))
		}
		elem := x.typ.elem
		code := fmt.Sprintf("((__global %s*)((__global uchar*)%s + %s.offset))%s", elem, x.typ.root, x.operand(), idx)
		return value{code: code, typ: elem.withRoot(x.typ.root)}
	}
	return t.fail(e.Pos(), "invalid operation: cannot index %s", exprString(e.X))
}

// isMath returns true if an expression refers to package math.
func (t *translator) isMath(expr ast.Expr) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == "math" && t.lookup("math") == nil
}

func (t *translator) selector(e *ast.SelectorExpr) value {
	if t.isMath(e.X) {
		if c, ok := mathConsts[e.Sel.Name]; ok {
			return c
		}
		return t.fail(e.Sel.Pos(), "undefined: math.%s", e.Sel.Name)
	}
	x := t.expr(e.X)
	rec, op := x.typ, "."
	if rec.kind == globalKind {
		rec, op = rec.elem, "->"
	}
	switch rec.kind {
	case invalidKind:
		return x
	case recordKind:
	default:
		return t.fail(e.Sel.Pos(), "%s undefined", exprString(e))
	}
	for _, f := range rec.st.Fields {
		if f.Name != e.Sel.Name {
			continue
		}
		typ := t.fieldCType(f)
		if typ.kind == invalidKind {
			return t.fail(e.Sel.Pos(), "field %s is not stored on the device", f.Name)
		}
		return value{code: x.operand() + op + f.Name, typ: typ.withRoot(x.typ.root)}
	}
	return t.fail(e.Sel.Pos(), "%s undefined", exprString(e))
}

// args returns the values of the arguments of a call.
func (t *translator) args(e *ast.CallExpr, name string, arity int) ([]value, bool) {
	if e.Ellipsis.IsValid() {
		t.errorf(e.Ellipsis, "variadic calls are not supported")
		return nil, false
	}
	switch {
	case arity >= 0 && len(e.Args) < arity:
		t.errorf(e.Rparen, "not enough arguments in call to %s", name)
		return nil, false
	case arity >= 0 && len(e.Args) > arity:
		t.errorf(e.Args[arity].Pos(), "too many arguments in call to %s", name)
		return nil, false
	}
	vals := make([]value, len(e.Args))
	ok := true
	for i, arg := range e.Args {
		vals[i] = t.expr(arg)
		switch vals[i].typ.kind {
		case invalidKind:
			ok = false
		case voidKind:
			t.checkValue(arg, vals[i])
			ok = false
		}
	}
	return vals, ok
}

func codes(vals []value) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = v.code
	}
	return strings.Join(s, ", ")
}

func (t *translator) scalarArgs(e *ast.CallExpr, name string, arity int) ([]value, bool) {
	vals, ok := t.args(e, name, arity)
	if !ok {
		return nil, false
	}
	for i, v := range vals {
		if !v.typ.isScalar() {
			t.errorf(e.Args[i].Pos(), "cannot use %s as a number in call to %s", exprString(e.Args[i]), name)
			return nil, false
		}
	}
	return vals, true
}

func (t *translator) call(e *ast.CallExpr) value {
	bad := value{code: "0", typ: invalid}
	fun, ok := e.Fun.(*ast.Ident)
	if !ok {
		if sel, isSel := e.Fun.(*ast.SelectorExpr); isSel && t.isMath(sel.X) {
			return t.mathCall(e, sel.Sel)
		}
		return t.fail(e.Fun.Pos(), "unsupported call of %s", exprString(e.Fun))
	}
	if t.lookup(fun.Name) != nil {
		return t.fail(fun.Pos(), "invalid operation: cannot call non-function %s", fun.Name)
	}
	if fn, ok := t.funcs[fun.Name]; ok {
		return t.helperCall(e, fn)
	}
	if name, ok := scalars[fun.Name]; ok {
		vals, ok := t.scalarArgs(e, fun.Name, 1)
		if !ok {
			return bad
		}
		return value{code: "(" + name + ")(" + vals[0].code + ")", typ: scalar(name)}
	}
	if name, ok := workItemFuncs[fun.Name]; ok {
		vals, ok := t.scalarArgs(e, fun.Name, 1)
		if !ok {
			return bad
		}
		return value{code: "(int)" + name + "(" + vals[0].code + ")", typ: integer}
	}
	switch fun.Name {
	case "Barrier":
		if _, ok := t.args(e, fun.Name, 0); !ok {
			return bad
		}
		return value{code: "barrier(CLK_LOCAL_MEM_FENCE | CLK_GLOBAL_MEM_FENCE)", typ: void}
	case "len":
		vals, ok := t.args(e, fun.Name, 1)
		if !ok {
			return bad
		}
		switch x := vals[0]; x.typ.kind {
		case localKind:
			return value{code: strconv.Itoa(x.typ.n), typ: integer}
		case fieldArrayKind:
			return value{code: "(int)" + x.operand() + ".length", typ: integer}
		case globalKind:
			return t.fail(e.Args[0].Pos(), "length of %s is unknown on the device", exprString(e.Args[0]))
		}
		return t.fail(e.Args[0].Pos(), "invalid argument %s for len", exprString(e.Args[0]))
	case "min", "max":
		vals, ok := t.scalarArgs(e, fun.Name, -1)
		if !ok {
			return bad
		}
		if len(vals) == 0 {
			return t.fail(e.Rparen, "not enough arguments in call to %s", fun.Name)
		}
		acc := vals[0]
		for _, v := range vals[1:] {
			typ, untyped, _ := binaryType(acc, v)
			name, x, y := fun.Name, acc, v
			if typ.isFloat() {
				name, x, y = "f"+name, toDouble(x), toDouble(y)
			}
			acc = value{code: name + "(" + x.code + ", " + y.code + ")", typ: typ, untyped: untyped}
		}
		return acc
	}
	return t.fail(fun.Pos(), "undefined: %s", fun.Name)
}

func (t *translator) helperCall(e *ast.CallExpr, fn *function) value {
	if fn.entry {
		return t.fail(e.Fun.Pos(), "cannot call the entry function %s", fn.name)
	}
	vals, ok := t.args(e, fn.name, len(fn.types))
	if !ok {
		return value{code: "0", typ: invalid}
	}
	for i, v := range vals {
		if want := fn.types[i]; want.kind != invalidKind && want.kind != v.typ.kind {
			return t.fail(e.Args[i].Pos(), "cannot use %s as %s value in argument to %s", exprString(e.Args[i]), want, fn.name)
		}
	}
	return value{code: fn.name + "(" + codes(vals) + ")", typ: fn.result}
}

func (t *translator) mathCall(e *ast.CallExpr, sel *ast.Ident) value {
	bad := value{code: "0", typ: invalid}
	if sel.Name == "Inf" {
		vals, ok := t.scalarArgs(e, "math.Inf", 1)
		if !ok {
			return bad
		}
		sign := vals[0]
		switch n, err := strconv.Atoi(sign.code); {
		case err == nil && n >= 0:
			return value{code: "INFINITY", typ: double}
		case err == nil:
			return value{code: "(-INFINITY)", typ: double}
		}
		return value{code: "(" + sign.operand() + " >= 0 ? INFINITY : -INFINITY)", typ: double}
	}
	if sel.Name == "IsNaN" {
		vals, ok := t.scalarArgs(e, "math.IsNaN", 1)
		if !ok {
			return bad
		}
		return value{code: "isnan(" + vals[0].code + ")", typ: boolean}
	}
	fn, ok := mathFuncs[sel.Name]
	if !ok {
		return t.fail(sel.Pos(), "undefined: math.%s", sel.Name)
	}
	vals, ok := t.scalarArgs(e, "math."+sel.Name, fn.arity)
	if !ok {
		return bad
	}
	for i, v := range vals {
		vals[i] = toDouble(v)
	}
	return value{code: fn.name + "(" + codes(vals) + ")", typ: double}
}

// toDouble converts integer arguments of overloaded built-ins.
func toDouble(v value) value {
	if v.typ.isFloat() {
		return v
	}
	if _, err := strconv.Atoi(v.code); err == nil && v.untyped {
		return value{code: v.code + ".0", typ: double, untyped: true}
	}
	return value{code: "(double)(" + v.code + ")", typ: double}
}
