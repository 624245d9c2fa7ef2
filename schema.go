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

package gpgpu

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// ArgType is the declared type of a kernel argument.
type ArgType int

const (
	// InvalidType is the zero value of ArgType.
	InvalidType ArgType = iota
	// NumericArray is a contiguous array of numbers of a given data type.
	NumericArray
	// OpaqueBuffer is a serialized object passed as raw bytes.
	OpaqueBuffer
	// OpaqueBufferArray is an array of serialized objects passed as raw bytes.
	OpaqueBufferArray
)

func (t ArgType) String() string {
	switch t {
	case NumericArray:
		return "numeric-array"
	case OpaqueBuffer:
		return "opaque-buffer"
	case OpaqueBufferArray:
		return "opaque-buffer-array"
	}
	return "invalid"
}

// Access declares in which direction data of an argument moves.
type Access int

const (
	// Read arguments are uploaded to the device before the kernel runs.
	Read Access = 1 << iota
	// Write arguments are read back into host memory once the kernel completes.
	Write
	// ReadWrite arguments are uploaded and read back.
	ReadWrite = Read | Write
)

// Uploads returns true if the argument content is sent to the device.
func (a Access) Uploads() bool {
	return a&Read != 0
}

// Downloads returns true if the argument content is read back from the device.
func (a Access) Downloads() bool {
	return a&Write != 0
}

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	}
	return fmt.Sprintf("Access(%d)", int(a))
}

// ParseAccess parses an access mode descriptor.
func ParseAccess(s string) (Access, error) {
	switch s {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "readwrite":
		return ReadWrite, nil
	}
	return 0, &ArgumentError{Index: -1, Msg: fmt.Sprintf("unknown access mode %q", s)}
}

var arrayDescriptors = map[string]dtypes.DType{
	"Float16Array": dtypes.Float16,
	"Float32Array": dtypes.Float32,
	"Float64Array": dtypes.Float64,
	"Int32Array":   dtypes.Int32,
	"Int64Array":   dtypes.Int64,
	"Uint32Array":  dtypes.Uint32,
	"Uint64Array":  dtypes.Uint64,
}

const (
	objectDescriptor      = "Object"
	objectArrayDescriptor = "Object[]"
)

// Arg describes one kernel argument.
type Arg struct {
	// Type of the argument.
	Type ArgType
	// DType of the elements of a numeric array.
	// Opaque buffers use dtypes.Uint8.
	DType dtypes.DType
	// Access mode of the argument.
	Access Access
}

// ParseArg parses a type descriptor and an access mode descriptor.
func ParseArg(typ, access string) (Arg, error) {
	acc, err := ParseAccess(access)
	if err != nil {
		return Arg{}, err
	}
	if dt, ok := arrayDescriptors[typ]; ok {
		return Arg{Type: NumericArray, DType: dt, Access: acc}, nil
	}
	switch typ {
	case objectDescriptor:
		return Arg{Type: OpaqueBuffer, DType: dtypes.Uint8, Access: acc}, nil
	case objectArrayDescriptor:
		return Arg{Type: OpaqueBufferArray, DType: dtypes.Uint8, Access: acc}, nil
	}
	return Arg{}, &ArgumentError{Index: -1, Msg: fmt.Sprintf("bad argument type %q", typ)}
}

// Descriptor returns the type descriptor of the argument.
func (a Arg) Descriptor() string {
	switch a.Type {
	case OpaqueBuffer:
		return objectDescriptor
	case OpaqueBufferArray:
		return objectArrayDescriptor
	case NumericArray:
		for desc, dt := range arrayDescriptors {
			if dt == a.DType {
				return desc
			}
		}
	}
	return a.Type.String()
}

func (a Arg) String() string {
	return a.Descriptor() + ":" + a.Access.String()
}

// Schema is the ordered list of arguments of a kernel.
// A schema cannot be modified once created.
type Schema struct {
	args []Arg
}

// NewSchema returns a schema given a list of arguments.
func NewSchema(args ...Arg) Schema {
	return Schema{args: append([]Arg{}, args...)}
}

// ParseSchema builds a schema from type descriptors and access mode descriptors.
// Both slices must have the same length.
func ParseSchema(types, access []string) (Schema, error) {
	if len(types) != len(access) {
		return Schema{}, &ArgumentError{
			Index: -1,
			Msg:   fmt.Sprintf("got %d argument types but %d access modes", len(types), len(access)),
		}
	}
	args := make([]Arg, len(types))
	for i, typ := range types {
		arg, err := ParseArg(typ, access[i])
		if err != nil {
			if argErr, ok := err.(*ArgumentError); ok {
				argErr.Index = i
			}
			return Schema{}, err
		}
		args[i] = arg
	}
	return Schema{args: args}, nil
}

// Len returns the number of arguments.
func (s Schema) Len() int {
	return len(s.args)
}

// At returns the ith argument.
func (s Schema) At(i int) Arg {
	return s.args[i]
}

// Args returns a copy of the arguments.
func (s Schema) Args() []Arg {
	return append([]Arg{}, s.args...)
}

// Outputs returns the positions of the arguments read back from the device.
func (s Schema) Outputs() []int {
	var outs []int
	for i, arg := range s.args {
		if arg.Access.Downloads() {
			outs = append(outs, i)
		}
	}
	return outs
}

func (s Schema) String() string {
	strs := make([]string, len(s.args))
	for i, arg := range s.args {
		strs[i] = arg.String()
	}
	return "(" + strings.Join(strs, ", ") + ")"
}
