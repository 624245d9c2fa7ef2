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

// Package serialize encodes host objects into the memory layout of C structures.
//
// Records are packed and little-endian. A boolean takes one byte and a number
// is stored as an 8-byte double. Strings are not stored. A slice is stored as
// a 16-byte header holding the number of elements and the byte offset of the
// first element from the start of the data. Elements of all slices are stored
// after the top-level records.
package serialize

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// HeaderSize is the size in bytes of the header of a slice.
const HeaderSize = 16

type pendingSlice struct {
	header int
	elems  reflect.Value
}

type encoder struct {
	layout  *Layout
	data    []byte
	pending []pendingSlice
}

func newEncoder() *encoder {
	return &encoder{layout: NewLayout()}
}

// Marshal encodes a value.
func Marshal(v any) ([]byte, *Layout, error) {
	enc := newEncoder()
	root, err := enc.encode(reflect.ValueOf(v))
	if err != nil {
		return nil, nil, err
	}
	enc.layout.Root = root
	if err := enc.flush(); err != nil {
		return nil, nil, err
	}
	return enc.data, enc.layout, nil
}

// MarshalSlice encodes the elements of a slice or an array as consecutive records.
func MarshalSlice(v any) ([]byte, *Layout, error) {
	val := indirect(reflect.ValueOf(v))
	if !val.IsValid() || (val.Kind() != reflect.Slice && val.Kind() != reflect.Array) {
		return nil, nil, errors.Errorf("Object[] must be an array: got %T", v)
	}
	enc := newEncoder()
	for i := 0; i < val.Len(); i++ {
		root, err := enc.encode(val.Index(i))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "element %d", i)
		}
		if i == 0 {
			enc.layout.Root = root
		} else if root != enc.layout.Root {
			return nil, nil, errors.Errorf("element %d is a %s but element 0 is a %s", i, root, enc.layout.Root)
		}
	}
	if err := enc.flush(); err != nil {
		return nil, nil, err
	}
	return enc.data, enc.layout, nil
}

func indirect(val reflect.Value) reflect.Value {
	for val.IsValid() && (val.Kind() == reflect.Interface || val.Kind() == reflect.Pointer) {
		if val.IsNil() {
			return reflect.Value{}
		}
		val = val.Elem()
	}
	return val
}

// flush appends the elements of all the slices encoded so far.
func (enc *encoder) flush() error {
	for len(enc.pending) > 0 {
		next := enc.pending[0]
		enc.pending = enc.pending[1:]
		binary.LittleEndian.PutUint64(enc.data[next.header+8:], uint64(len(enc.data)))
		for i := 0; i < next.elems.Len(); i++ {
			if _, err := enc.encode(next.elems.Index(i)); err != nil {
				return errors.Wrapf(err, "element %d", i)
			}
		}
	}
	return nil
}

// encode appends a value to the data and returns its C type.
// An empty type means that the value takes no space.
func (enc *encoder) encode(val reflect.Value) (string, error) {
	val = indirect(val)
	if !val.IsValid() {
		return "", errors.Errorf("cannot serialize a nil value")
	}
	switch val.Kind() {
	case reflect.Bool:
		var b byte
		if val.Bool() {
			b = 1
		}
		enc.data = append(enc.data, b)
		return BoolType, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return enc.number(float64(val.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return enc.number(float64(val.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return enc.number(val.Float()), nil
	case reflect.String:
		return "", nil
	case reflect.Slice, reflect.Array:
		header := len(enc.data)
		enc.data = binary.LittleEndian.AppendUint64(enc.data, uint64(val.Len()))
		enc.data = binary.LittleEndian.AppendUint64(enc.data, 0)
		enc.pending = append(enc.pending, pendingSlice{header: header, elems: val})
		enc.layout.usesArray = true
		return ArrayType, nil
	case reflect.Struct:
		return enc.encodeStruct(val)
	case reflect.Map:
		return enc.encodeMap(val)
	}
	return "", errors.Errorf("cannot serialize a value of type %s", val.Type())
}

func (enc *encoder) number(f float64) string {
	enc.data = binary.LittleEndian.AppendUint64(enc.data, math.Float64bits(f))
	return NumberType
}

func (enc *encoder) encodeStruct(val reflect.Value) (string, error) {
	tp := val.Type()
	var fields []Field
	for i := 0; i < tp.NumField(); i++ {
		sf := tp.Field(i)
		if !sf.IsExported() {
			continue
		}
		field, err := enc.field(sf.Name, val.Field(i))
		if err != nil {
			return "", err
		}
		fields = append(fields, field)
	}
	return enc.layout.Register(fields), nil
}

func (enc *encoder) encodeMap(val reflect.Value) (string, error) {
	if val.Type().Key().Kind() != reflect.String {
		return "", errors.Errorf("cannot serialize a map with %s keys", val.Type().Key())
	}
	keys := make([]string, 0, val.Len())
	for _, key := range val.MapKeys() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	var fields []Field
	for _, key := range keys {
		field, err := enc.field(key, val.MapIndex(reflect.ValueOf(key).Convert(val.Type().Key())))
		if err != nil {
			return "", err
		}
		fields = append(fields, field)
	}
	return enc.layout.Register(fields), nil
}

func (enc *encoder) field(name string, val reflect.Value) (Field, error) {
	offset := len(enc.data)
	ctype, err := enc.encode(val)
	if err != nil {
		return Field{}, errors.Wrapf(err, "field %s", name)
	}
	field := Field{Name: name, Type: ctype, Offset: offset}
	if ctype == ArrayType {
		field.Elem = enc.elemType(indirect(val))
	}
	return field, nil
}

// elemType returns the C type of the elements of a slice
// without encoding them.
func (enc *encoder) elemType(val reflect.Value) string {
	if val.Len() == 0 {
		return ""
	}
	first := &encoder{layout: enc.layout}
	ctype, err := first.encode(val.Index(0))
	if err != nil {
		return ""
	}
	return ctype
}

func (f Field) String() string {
	return fmt.Sprintf("%s %s", f.Type, f.Name)
}
