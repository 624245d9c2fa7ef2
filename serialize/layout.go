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

package serialize

import (
	"fmt"
	"strings"
)

// C types of encoded values.
const (
	BoolType   = "uchar"
	NumberType = "double"
	ArrayType  = "GenArray"
)

// Field is a field of a record.
type Field struct {
	// Name of the field.
	Name string
	// Type of the field in C.
	Type string
	// Elem is the C type of the elements of a slice, if known.
	Elem string
	// Offset of the field in the data of the first record encoded with this layout.
	Offset int
}

// Struct is a C structure used by encoded records.
type Struct struct {
	Name   string
	Fields []Field
}

// Layout describes the C types of encoded data.
type Layout struct {
	// Root is the C type of the top-level records.
	Root string

	structs   []*Struct
	byKey     map[string]*Struct
	usesArray bool
}

// NewLayout returns a layout without any structure.
func NewLayout() *Layout {
	return &Layout{byKey: make(map[string]*Struct)}
}

func structKey(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s:%s;", f.Name, f.Type)
	}
	return b.String()
}

// Register returns the name of a structure given its fields.
// Records with the same fields share the same structure.
func (l *Layout) Register(fields []Field) string {
	key := structKey(fields)
	if st, ok := l.byKey[key]; ok {
		return st.Name
	}
	for _, f := range fields {
		if f.Type == ArrayType {
			l.usesArray = true
		}
	}
	st := &Struct{
		Name:   fmt.Sprintf("GenClass%d", len(l.structs)),
		Fields: fields,
	}
	l.structs = append(l.structs, st)
	l.byKey[key] = st
	return st.Name
}

// Struct returns a structure given its name or nil if the layout has no such structure.
func (l *Layout) Struct(name string) *Struct {
	for _, st := range l.structs {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// Structs returns the structures of the layout in declaration order.
func (l *Layout) Structs() []*Struct {
	return append([]*Struct{}, l.structs...)
}

// Declarations returns the C declarations of the types of the layout.
func (l *Layout) Declarations() string {
	var b strings.Builder
	if l.usesArray {
		b.WriteString("typedef struct __attribute__((packed)) {\n\tulong length;\n\tulong offset;\n} " + ArrayType + ";\n")
	}
	for _, st := range l.structs {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("typedef struct __attribute__((packed)) {\n")
		for _, f := range st.Fields {
			if f.Type == "" {
				continue
			}
			b.WriteString("\t" + f.String() + ";")
			if f.Elem != "" {
				b.WriteString(" // " + f.Elem + "[]")
			}
			b.WriteString("\n")
		}
		b.WriteString("} " + st.Name + ";\n")
	}
	return b.String()
}
