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
	"go/ast"
	"go/types"
	"strconv"
	"strings"

	"github.com/gx-org/gpgpu/backend/kernel"
	"github.com/gx-org/gpgpu/serialize"
)

// record returns the record type of a struct type declared in the source.
func (t *translator) record(name string, specs map[string]*ast.TypeSpec, visiting map[string]bool) *ctype {
	if rec, ok := t.records[name]; ok {
		return rec
	}
	ts := specs[name]
	if visiting[name] {
		return t.errorf(ts.Pos(), "invalid recursive type %s", name)
	}
	st, ok := ts.Type.(*ast.StructType)
	if !ok || ts.TypeParams != nil {
		t.records[name] = invalid
		return t.errorf(ts.Pos(), "type %s: only struct types are supported", name)
	}
	visiting[name] = true
	defer delete(visiting, name)
	var fields []serialize.Field
	size := 0
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 {
			t.errorf(field.Pos(), "embedded fields are not supported")
			continue
		}
		typ, elem, fieldSize := t.fieldType(field.Type, specs, visiting)
		for _, id := range field.Names {
			if !id.IsExported() {
				continue
			}
			fields = append(fields, serialize.Field{Name: id.Name, Type: typ, Elem: elem, Offset: size})
			size += fieldSize
		}
	}
	cname := t.layout.Register(fields)
	rec, ok := t.byCName[cname]
	if !ok {
		rec = &ctype{kind: recordKind, name: cname, st: t.layout.Struct(cname), size: size}
		t.byCName[cname] = rec
	}
	t.records[name] = rec
	return rec
}

// fieldType returns the C type of a struct field, the C type of its elements
// for slices, and its size in bytes.
func (t *translator) fieldType(expr ast.Expr, specs map[string]*ast.TypeSpec, visiting map[string]bool) (string, string, int) {
	switch e := expr.(type) {
	case *ast.Ident:
		switch {
		case e.Name == "bool":
			return serialize.BoolType, "", 1
		case e.Name == "string":
			return "", "", 0
		case scalars[e.Name] != "":
			return serialize.NumberType, "", 8
		case specs[e.Name] != nil:
			rec := t.record(e.Name, specs, visiting)
			return rec.name, "", rec.size
		}
		t.errorf(e.Pos(), "undefined type %s", e.Name)
	case *ast.StarExpr:
		return t.fieldType(e.X, specs, visiting)
	case *ast.ParenExpr:
		return t.fieldType(e.X, specs, visiting)
	case *ast.ArrayType:
		elem, _, _ := t.fieldType(e.Elt, specs, visiting)
		return serialize.ArrayType, elem, 16
	default:
		t.errorf(expr.Pos(), "unsupported field type %s", types.ExprString(expr))
	}
	return "", "", 0
}

// cType returns the type of a C type name used in a layout.
func (t *translator) cType(name string) *ctype {
	if rec, ok := t.byCName[name]; ok {
		return rec
	}
	if name == serialize.ArrayType {
		return &ctype{kind: fieldArrayKind}
	}
	return scalar(name)
}

func (t *translator) fieldCType(f serialize.Field) *ctype {
	switch f.Type {
	case "":
		return invalid
	case serialize.ArrayType:
		arr := &ctype{kind: fieldArrayKind}
		if f.Elem != "" {
			arr.elem = t.cType(f.Elem)
		}
		return arr
	}
	return t.cType(f.Type)
}

// typeOf returns the type of a local variable, a helper parameter or a helper result.
func (t *translator) typeOf(expr ast.Expr) *ctype {
	switch e := expr.(type) {
	case *ast.Ident:
		if name, ok := scalars[e.Name]; ok {
			return scalar(name)
		}
		if rec, ok := t.records[e.Name]; ok {
			return rec
		}
		return t.errorf(e.Pos(), "undefined type %s", e.Name)
	case *ast.ParenExpr:
		return t.typeOf(e.X)
	case *ast.StarExpr:
		elem := t.typeOf(e.X)
		switch elem.kind {
		case invalidKind:
			return invalid
		case recordKind:
			return globalPtr(elem)
		}
		return t.errorf(e.Pos(), "pointers are only supported to struct types")
	case *ast.ArrayType:
		if e.Len == nil {
			return t.errorf(e.Pos(), "slices are only supported as kernel arguments")
		}
		n, ok := t.constInt(e.Len)
		if !ok {
			return invalid
		}
		if n <= 0 {
			return t.errorf(e.Len.Pos(), "invalid array length %d", n)
		}
		elem := t.typeOf(e.Elt)
		if elem.kind == invalidKind {
			return invalid
		}
		return &ctype{kind: localKind, elem: elem, n: n}
	}
	return t.errorf(expr.Pos(), "unsupported type %s", types.ExprString(expr))
}

// constInt returns the value of an integer constant.
func (t *translator) constInt(expr ast.Expr) (int, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if v, err := strconv.ParseInt(e.Value, 0, 64); err == nil {
			return int(v), true
		}
	case *ast.Ident:
		if sym := t.lookup(e.Name); sym != nil && sym.isConst {
			return sym.value, true
		}
	case *ast.ParenExpr:
		return t.constInt(e.X)
	}
	t.errorf(expr.Pos(), "%s is not an integer constant", types.ExprString(expr))
	return 0, false
}

// argType returns the descriptor and the type of a kernel argument.
func (t *translator) argType(expr ast.Expr) (string, *ctype) {
	record := func(expr ast.Expr) *ctype {
		id, ok := expr.(*ast.Ident)
		if !ok {
			return nil
		}
		if rec := t.records[id.Name]; rec != nil && rec.kind == recordKind {
			return rec
		}
		return nil
	}
	switch e := expr.(type) {
	case *ast.ArrayType:
		if e.Len != nil {
			break
		}
		if id, ok := e.Elt.(*ast.Ident); ok {
			if desc, ok := numericArrays[id.Name]; ok {
				return desc, globalPtr(scalar(scalars[id.Name]))
			}
		}
		if rec := record(e.Elt); rec != nil {
			return "Object[]", globalPtr(rec)
		}
	case *ast.StarExpr:
		if rec := record(e.X); rec != nil {
			return "Object", globalPtr(rec)
		}
	case *ast.Ident:
		if rec := record(e); rec != nil {
			return "Object", globalPtr(rec)
		}
	}
	return "", t.errorf(expr.Pos(), "unsupported kernel argument type %s", types.ExprString(expr))
}

// signature returns the signature of a function or nil if the function cannot be translated.
func (t *translator) signature(decl *ast.FuncDecl, entry bool) *function {
	switch {
	case decl.Recv != nil:
		t.errorf(decl.Pos(), "methods are not supported")
		return nil
	case decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0:
		t.errorf(decl.Pos(), "generic functions are not supported")
		return nil
	case decl.Body == nil:
		t.errorf(decl.Pos(), "function %s has no body", decl.Name.Name)
		return nil
	}
	fn := &function{name: decl.Name.Name, decl: decl, entry: entry, result: void}
	if !entry {
		t.checkName(decl.Name)
	}
	for _, field := range decl.Type.Params.List {
		var desc string
		var typ *ctype
		if entry {
			desc, typ = t.argType(field.Type)
		} else {
			typ = t.typeOf(field.Type)
			if typ.kind == localKind {
				typ = t.errorf(field.Type.Pos(), "array parameters are not supported")
			}
		}
		if len(field.Names) == 0 {
			t.errorf(field.Pos(), "parameters must be named")
			continue
		}
		for _, id := range field.Names {
			fn.params = append(fn.params, id)
			if entry {
				fn.types = append(fn.types, typ.withRoot(id.Name))
				fn.descs = append(fn.descs, desc)
			} else {
				fn.types = append(fn.types, typ)
			}
		}
	}
	results := decl.Type.Results
	if results == nil || len(results.List) == 0 {
		return fn
	}
	switch {
	case entry:
		t.errorf(results.Pos(), "function %s cannot return a value", fn.name)
	case len(results.List) > 1 || len(results.List[0].Names) > 1:
		t.errorf(results.Pos(), "functions return at most one value")
	case len(results.List[0].Names) == 1:
		t.errorf(results.Pos(), "named results are not supported")
	default:
		fn.result = t.typeOf(results.List[0].Type)
		if fn.result.kind == localKind {
			fn.result = t.errorf(results.Pos(), "functions cannot return arrays")
		}
	}
	return fn
}

// header returns the C declaration of a function.
func (t *translator) header(fn *function) string {
	var params []string
	if fn.entry {
		for _, slot := range kernel.TranslatorSlots {
			params = append(params, "__global "+slotType(slot.Size)+"* "+slot.Name)
		}
	}
	for i, id := range fn.params {
		params = append(params, fn.types[i].declare(id.Name))
	}
	if fn.entry {
		return "__kernel void " + kernel.DefaultEntryPoint + "(" + strings.Join(params, ", ") + ")"
	}
	if len(params) == 0 {
		params = []string{"void"}
	}
	return fn.result.String() + " " + fn.name + "(" + strings.Join(params, ", ") + ")"
}

// body returns the C definition of a function.
func (t *translator) body(fn *function) string {
	t.fn = fn
	t.scopes = nil
	t.push()
	for i, id := range fn.params {
		t.define(id, &symbol{typ: fn.types[i]})
	}
	w := &writer{}
	w.line(t.header(fn) + " {")
	t.stmts(w, fn.decl.Body.List)
	w.line("}")
	t.pop()
	t.fn = nil
	return w.String()
}
