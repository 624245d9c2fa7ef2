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
	"strings"

	"github.com/gx-org/gpgpu/backend/kernel"
	"github.com/gx-org/gpgpu/serialize"
)

type kind int

const (
	invalidKind kind = iota
	voidKind
	scalarKind
	recordKind
	globalKind
	localKind
	fieldArrayKind
)

// ctype is the C type of a value.
type ctype struct {
	kind kind
	// name of scalar and record types.
	name string
	// elem is the type pointed to by a global pointer or the element type of an array.
	elem *ctype
	// n is the length of a local array.
	n    int
	// root is the kernel argument storing a record or a field array.
	root string
	// st lists the fields of a record.
	st   *serialize.Struct
	// size of a record in bytes.
	size int
}

var (
	invalid = &ctype{kind: invalidKind}
	void    = &ctype{kind: voidKind}
	boolean = scalar("bool")
	integer = scalar("int")
	double  = scalar(serialize.NumberType)
)

func scalar(name string) *ctype {
	return &ctype{kind: scalarKind, name: name}
}

func globalPtr(elem *ctype) *ctype {
	return &ctype{kind: globalKind, elem: elem}
}

// withRoot returns a copy of the type stored in a kernel argument.
func (t *ctype) withRoot(root string) *ctype {
	if t.kind == invalidKind || t.kind == voidKind {
		return t
	}
	c := *t
	c.root = root
	return &c
}

func (t *ctype) isScalar() bool {
	return t.kind == scalarKind
}

func (t *ctype) isFloat() bool {
	return t.kind == scalarKind && (t.name == "float" || t.name == "double" || t.name == "half")
}

func (t *ctype) isInteger() bool {
	return t.kind == scalarKind && !t.isFloat() && t.name != "bool"
}

func (t *ctype) String() string {
	switch t.kind {
	case voidKind:
		return "void"
	case scalarKind, recordKind:
		return t.name
	case globalKind:
		return "__global " + t.elem.String() + "*"
	case localKind:
		return fmt.Sprintf("%s[%d]", t.elem, t.n)
	case fieldArrayKind:
		return serialize.ArrayType
	}
	return "invalid"
}

// declare returns the C declaration of a variable of the type.
func (t *ctype) declare(name string) string {
	if t.kind != localKind {
		return t.String() + " " + name
	}
	var dims strings.Builder
	elem := t
	for elem.kind == localKind {
		fmt.Fprintf(&dims, "[%d]", elem.n)
		elem = elem.elem
	}
	return elem.declare(name + dims.String())
}

// zero returns the C initializer of the zero value of the type.
func (t *ctype) zero() string {
	switch {
	case t.kind == scalarKind && t.name == "bool":
		return "false"
	case t.kind == scalarKind:
		return "0"
	}
	return "{0}"
}

// scalars maps Go basic types to OpenCL C scalar types.
var scalars = map[string]string{
	"bool":    "bool",
	"int":     "int",
	"int8":    "char",
	"int16":   "short",
	"int32":   "int",
	"int64":   "long",
	"uint":    "uint",
	"uint8":   "uchar",
	"byte":    "uchar",
	"uint16":  "ushort",
	"uint32":  "uint",
	"uint64":  "ulong",
	"float32": "float",
	"float64": "double",
}

// numericArrays maps the element types of slice arguments to their descriptors.
var numericArrays = map[string]string{
	"float32": "Float32Array",
	"float64": "Float64Array",
	"int32":   "Int32Array",
	"int64":   "Int64Array",
	"uint32":  "Uint32Array",
	"uint64":  "Uint64Array",
}

// slotType returns the C element type of a reserved buffer given its size.
func slotType(size int) string {
	switch size {
	case 2:
		return "ushort"
	case 4:
		return "uint"
	case 8:
		return "ulong"
	}
	return "uchar"
}

// reserved are identifiers of OpenCL C that Go code cannot declare.
var reserved = map[string]bool{}

func init() {
	for _, name := range strings.Fields(`
		auto break bool case char const constant continue default do double else enum extern
		float for global goto half if inline int kernel local long private register restrict
		return short signed sizeof static struct switch typedef uchar uint ulong union unsigned
		ushort void volatile while size_t ptrdiff_t intptr_t uintptr_t read_only write_only
		read_write true false
		get_global_id get_global_size get_local_id get_local_size get_group_id get_num_groups
		get_work_dim barrier
		sqrt pow sin cos tan asin acos atan atan2 exp log log2 log10 fabs floor ceil round trunc
		fmin fmax fmod hypot min max`) {
		reserved[name] = true
	}
	for _, slot := range kernel.TranslatorSlots {
		reserved[slot.Name] = true
	}
	reserved[kernel.DefaultEntryPoint] = true
}
