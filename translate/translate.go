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

// Package translate converts kernels written as Go functions into OpenCL C.
//
// The entry function of a source, main by default, becomes the kernel
// kernelFunc. Its parameters are the arguments of the kernel:
//
//	[]float32 []float64 []int32 []int64 []uint32 []uint64  numeric arrays
//	T *T                                                 Object
//	[]T                                                  Object[]
//
// where T is a struct type declared in the source. Struct types are laid out
// the way package serialize encodes host values. Other functions are helpers
// callable from the kernel. The generated kernel takes the buffers of
// kernel.TranslatorSlots ahead of its arguments.
//
// Kernels call GlobalID, GlobalSize, LocalID, LocalSize, GroupID and NumGroups
// for the work-item functions and Barrier for a work-group barrier. Functions
// and constants of package math map to OpenCL built-ins.
package translate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/serialize"
)

// DefaultMain is the name of the Go function translated into the entry kernel.
const DefaultMain = "main"

const (
	fileName  = "kernel.go"
	maxErrors = 10
)

type (
	// Option configures a translation.
	Option func(*options)

	options struct {
		main string
	}

	// Kernel is a kernel translated into OpenCL C.
	Kernel struct {
		// Source of the kernel in OpenCL C.
		Source string
		// Types are the descriptors of the kernel arguments.
		Types  []string
		// Layout of the struct types of the source.
		Layout *serialize.Layout
	}
)

// WithMain sets the name of the Go function translated into the entry kernel.
func WithMain(name string) Option {
	return func(o *options) {
		o.main = name
	}
}

// Func translates the Go source of a kernel into OpenCL C.
// The package clause of the source is optional.
//
// An invalid source returns a *gpgpu.CompileError with one line per error in its log.
func Func(src string, opts ...Option) (*Kernel, error) {
	o := options{main: DefaultMain}
	for _, opt := range opts {
		opt(&o)
	}
	t := &translator{
		fset:    token.NewFileSet(),
		layout:  serialize.NewLayout(),
		records: make(map[string]*ctype),
		byCName: make(map[string]*ctype),
		funcs:   make(map[string]*function),
	}
	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		src = "package kernel\n" + src
		t.lineOffset = 1
	}
	file, err := parser.ParseFile(t.fset, fileName, src, parser.SkipObjectResolution)
	if err != nil {
		var list scanner.ErrorList
		if !errors.As(err, &list) {
			return nil, &gpgpu.CompileError{Err: err}
		}
		for _, e := range list {
			t.report(e.Pos, e.Msg)
		}
		return nil, t.compileError()
	}
	kern := t.file(file, o.main)
	if len(t.errs) > 0 {
		return nil, t.compileError()
	}
	return kern, nil
}

type (
	symbol struct {
		typ     *ctype
		// value of integer constants.
		value   int
		isConst bool
	}

	scope map[string]*symbol

	function struct {
		name   string
		decl   *ast.FuncDecl
		params []*ast.Ident
		types  []*ctype
		result *ctype
		entry  bool
		// descs are the descriptors of the arguments of the entry kernel.
		descs  []string
	}

	translator struct {
		fset       *token.FileSet
		lineOffset int
		layout     *serialize.Layout
		// records maps Go type names to record types.
		records    map[string]*ctype
		// byCName maps C structure names to record types.
		byCName    map[string]*ctype
		funcs      map[string]*function
		errs       []string

		fn     *function
		scopes []scope
	}
)

func (t *translator) report(pos token.Position, msg string) {
	if len(t.errs) == maxErrors {
		t.errs = append(t.errs, fileName+": too many errors")
	}
	if len(t.errs) > maxErrors {
		return
	}
	pos.Line -= t.lineOffset
	t.errs = append(t.errs, fmt.Sprintf("%s:%d:%d: %s", fileName, pos.Line, pos.Column, msg))
}

func (t *translator) errorf(pos token.Pos, format string, args ...any) *ctype {
	t.report(t.fset.Position(pos), fmt.Sprintf(format, args...))
	return invalid
}

func (t *translator) compileError() error {
	return &gpgpu.CompileError{
		Log: strings.Join(t.errs, "\n") + "\n",
		Err: errors.Errorf("cannot translate Go kernel"),
	}
}

// checkName reports identifiers that cannot be declared in OpenCL C.
func (t *translator) checkName(id *ast.Ident) {
	if reserved[id.Name] {
		t.errorf(id.Pos(), "%s is reserved in OpenCL C", id.Name)
	}
	if id.Name == "_" {
		t.errorf(id.Pos(), "cannot declare _")
	}
}

func (t *translator) push() {
	t.scopes = append(t.scopes, make(scope))
}

func (t *translator) pop() {
	t.scopes = t.scopes[:len(t.scopes)-1]
}

func (t *translator) define(id *ast.Ident, sym *symbol) {
	t.checkName(id)
	top := t.scopes[len(t.scopes)-1]
	if _, ok := top[id.Name]; ok {
		t.errorf(id.Pos(), "%s redeclared in this block", id.Name)
	}
	top[id.Name] = sym
}

func (t *translator) lookup(name string) *symbol {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if sym, ok := t.scopes[i][name]; ok {
			return sym
		}
	}
	return nil
}

func (t *translator) file(file *ast.File, mainName string) *Kernel {
	specs := make(map[string]*ast.TypeSpec)
	var typeNames []string
	var decls []*ast.FuncDecl
	for _, decl := range file.Decls {
		switch decl := decl.(type) {
		case *ast.GenDecl:
			switch decl.Tok {
			case token.IMPORT:
			case token.TYPE:
				for _, spec := range decl.Specs {
					ts := spec.(*ast.TypeSpec)
					specs[ts.Name.Name] = ts
					typeNames = append(typeNames, ts.Name.Name)
				}
			default:
				t.errorf(decl.Pos(), "unsupported %s declaration outside of a function", decl.Tok)
			}
		case *ast.FuncDecl:
			decls = append(decls, decl)
		}
	}
	for _, name := range typeNames {
		t.record(name, specs, make(map[string]bool))
	}
	var helpers []*function
	var entry *function
	for _, decl := range decls {
		fn := t.signature(decl, decl.Name.Name == mainName)
		if fn == nil {
			continue
		}
		if _, ok := t.funcs[fn.name]; ok {
			t.errorf(decl.Name.Pos(), "%s redeclared", fn.name)
			continue
		}
		t.funcs[fn.name] = fn
		if fn.entry {
			entry = fn
		} else {
			helpers = append(helpers, fn)
		}
	}
	if entry == nil {
		t.report(token.Position{Line: 1 + t.lineOffset, Column: 1}, fmt.Sprintf("function %s is not declared", mainName))
		return nil
	}

	var b strings.Builder
	if typedefs := t.layout.Declarations(); typedefs != "" {
		b.WriteString(typedefs)
		b.WriteString("\n")
	}
	if len(helpers) > 0 {
		for _, fn := range helpers {
			b.WriteString(t.header(fn) + ";\n")
		}
		b.WriteString("\n")
		for _, fn := range helpers {
			b.WriteString(t.body(fn))
			b.WriteString("\n")
		}
	}
	b.WriteString(t.body(entry))
	return &Kernel{Source: b.String(), Types: entry.descs, Layout: t.layout}
}
