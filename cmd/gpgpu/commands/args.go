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

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/x448/float16"
)

// parseValues parses a comma separated list of numbers.
func parseValues[T any](s string, parse func(string) (T, error)) ([]T, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	vals := make([]T, len(fields))
	for i, field := range fields {
		val, err := parse(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Wrapf(err, "value %d", i)
		}
		vals[i] = val
	}
	return vals, nil
}

func parseF32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

func parseF64(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseI32(s string) (int32, error) {
	i, err := strconv.ParseInt(s, 10, 32)
	return int32(i), err
}

func parseU32(s string) (uint32, error) {
	u, err := strconv.ParseUint(s, 10, 32)
	return uint32(u), err
}

func zeros(arg gpgpu.Arg, n int) (any, error) {
	if arg.Type != gpgpu.NumericArray {
		return make([]byte, n), nil
	}
	switch arg.DType {
	case dtypes.Float16:
		return make([]float16.Float16, n), nil
	case dtypes.Float32:
		return make([]float32, n), nil
	case dtypes.Float64:
		return make([]float64, n), nil
	case dtypes.Int32:
		return make([]int32, n), nil
	case dtypes.Int64:
		return make([]int64, n), nil
	case dtypes.Uint32:
		return make([]uint32, n), nil
	case dtypes.Uint64:
		return make([]uint64, n), nil
	}
	return nil, errors.Errorf("cannot create zeros for %s", arg)
}

// parseArg parses the value of a kernel argument given on the command line.
func parseArg(s string, arg gpgpu.Arg) (any, error) {
	kind, val, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.Errorf("argument %q: want kind:value", s)
	}
	switch kind {
	case "zeros":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("argument %q: invalid number of elements", s)
		}
		return zeros(arg, n)
	case "f32":
		return parseValues(val, parseF32)
	case "f64":
		return parseValues(val, parseF64)
	case "i32":
		return parseValues(val, parseI32)
	case "u32":
		return parseValues(val, parseU32)
	case "file":
		data, err := os.ReadFile(val)
		if err != nil {
			return nil, err
		}
		if arg.Type == gpgpu.NumericArray {
			return gpgpu.Array{DType: arg.DType, Data: data}, nil
		}
		return data, nil
	}
	return nil, errors.Errorf("argument %q: unknown kind %q", s, kind)
}

func formatArg(v any) string {
	switch vT := v.(type) {
	case gpgpu.Array:
		return fmt.Sprintf("%d bytes of %s", len(vT.Data), vT.DType)
	case []byte:
		return fmt.Sprintf("%x", vT)
	}
	return fmt.Sprint(v)
}
