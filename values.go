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
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// Array is host memory holding elements of a given data type.
// It is used by hosts that only have raw bytes, such as C callers.
type Array struct {
	DType dtypes.DType
	Data  []byte
}

func bytesOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// hostData returns the data type and a byte view of a host value.
// The byte view aliases the host memory.
func hostData(v any) (dtypes.DType, []byte, bool) {
	switch vT := v.(type) {
	case []float32:
		return dtypes.Float32, bytesOf(vT), true
	case []float64:
		return dtypes.Float64, bytesOf(vT), true
	case []int32:
		return dtypes.Int32, bytesOf(vT), true
	case []uint32:
		return dtypes.Uint32, bytesOf(vT), true
	case []int64:
		return dtypes.Int64, bytesOf(vT), true
	case []uint64:
		return dtypes.Uint64, bytesOf(vT), true
	case []float16.Float16:
		return dtypes.Float16, bytesOf(vT), true
	case []byte:
		return dtypes.Uint8, vT, true
	case Array:
		return vT.DType, vT.Data, true
	case *Array:
		if vT == nil {
			return dtypes.InvalidDType, nil, false
		}
		return vT.DType, vT.Data, true
	}
	return dtypes.InvalidDType, nil, false
}

// View returns the bytes of the host memory of a value given its declaration.
// The returned slice aliases the value: writing into it modifies the value.
// The error is an *ArgumentError with index i if the value does not match the declaration.
func View(i int, arg Arg, v any) ([]byte, error) {
	dt, data, ok := hostData(v)
	switch arg.Type {
	case NumericArray:
		if !ok {
			return nil, &ArgumentError{Index: i, Msg: fmt.Sprintf("argument type doesnt match array: got %T, want %s", v, arg.Descriptor())}
		}
		if dt != arg.DType {
			return nil, &ArgumentError{Index: i, Msg: fmt.Sprintf("array holds %s elements but %s is declared", dt, arg.Descriptor())}
		}
		if size := dt.Size(); size > 0 && len(data)%size != 0 {
			return nil, &ArgumentError{Index: i, Msg: fmt.Sprintf("%d bytes is not a multiple of the %s element size", len(data), dt)}
		}
	case OpaqueBuffer, OpaqueBufferArray:
		if !ok || dt != dtypes.Uint8 {
			return nil, &ArgumentError{Index: i, Msg: fmt.Sprintf("argument type doesnt match object: got %T, want bytes", v)}
		}
	default:
		return nil, &ArgumentError{Index: i, Msg: fmt.Sprintf("bad argument type %s", arg.Type)}
	}
	if len(data) == 0 {
		return nil, &ArgumentError{Index: i, Msg: "empty buffer"}
	}
	return data, nil
}
