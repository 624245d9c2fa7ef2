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

package api_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	"github.com/gx-org/gpgpu/backend/kernel"
	gpgputesting "github.com/gx-org/gpgpu/testing"
)

const scaleSource = `
typedef struct { double factor; } GenClass0;

__kernel void kernelFunc(__global const GenClass0* params, __global float* x) {
	x[get_global_id(0)] *= params->factor;
}
`

func scale(item emulator.WorkItem, args [][]byte) {
	factor := math.Float64frombits(binary.LittleEndian.Uint64(args[0]))
	x := emulator.Float32s(args[1])
	x[item.Linear()] *= float32(factor)
}

type params struct {
	Factor float64
}

func TestCreateKernel(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", scale))
	rtm := gpgputesting.NewRuntime(t, drv)
	kern, err := rtm.CreateKernel(scaleSource, []string{"Object", "Float32Array"}, []string{"read", "readwrite"})
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	launcher, err := kern.SetSize([]int{3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	x := []float32{1, 2, 3}
	future, err := launcher.Launch(params{Factor: 2}, x)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{2, 4, 6}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	gpgputesting.CheckBufferCount(t, rtm.Session(), drv)
}

func TestObjectBytes(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", scale))
	rtm := gpgputesting.NewRuntime(t, drv)
	kern, err := rtm.CreateKernel(scaleSource, []string{"Object", "Float32Array"}, []string{"read", "readwrite"})
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	launcher, err := kern.SetSize([]int{1}, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	factor := binary.LittleEndian.AppendUint64(nil, math.Float64bits(3))
	x := []float32{5}
	future, err := launcher.Launch(factor, x)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
	if x[0] != 15 {
		t.Errorf("got %v, want 15", x[0])
	}
}

func TestCodes(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", scale))
	rtm := gpgputesting.NewRuntime(t, drv)
	tests := []struct {
		name   string
		source string
		types  []string
		access []string
		code   int
	}{
		{"syntax error", "__kernel void kernelFunc(", []string{"Object", "Float32Array"}, []string{"read", "readwrite"}, gpgpu.CodeCompile},
		{"unknown type", scaleSource, []string{"Object", "Float8Array"}, []string{"read", "readwrite"}, gpgpu.CodeArgument},
		{"access length", scaleSource, []string{"Object", "Float32Array"}, []string{"read"}, gpgpu.CodeArgument},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			kern, err := rtm.CreateKernel(test.source, test.types, test.access)
			if kern != nil {
				t.Errorf("got a kernel, want an error")
			}
			if got := gpgpu.Code(err); got != test.code {
				t.Errorf("got code %d for error %v, want %d", got, err, test.code)
			}
		})
	}
}

func TestObjectArrayMustBeArray(t *testing.T) {
	const src = `__kernel void kernelFunc(__global const GenClass0* ps) {}`
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(emulator.WorkItem, [][]byte) {}))
	rtm := gpgputesting.NewRuntime(t, drv)
	kern, err := rtm.CreateKernel(src, []string{"Object[]"}, []string{"read"})
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	launcher, err := kern.SetSize([]int{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := launcher.Launch(params{Factor: 1}); gpgpu.Code(err) != gpgpu.CodeArgument {
		t.Errorf("got error %v, want an argument error", err)
	}
	future, err := launcher.Launch([]params{{Factor: 1}, {Factor: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
}

func TestKernelOptions(t *testing.T) {
	const src = `__kernel void double_it(__global int* x) {}`
	drv := emulator.New(emulator.WithKernel("double_it", func(item emulator.WorkItem, args [][]byte) {
		emulator.Int32s(args[0])[item.Linear()] *= 2
	}))
	rtm := gpgputesting.NewRuntime(t, drv)
	kern, err := rtm.CreateKernel(src, []string{"Int32Array"}, []string{"readwrite"}, kernel.WithEntryPoint("double_it"))
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	launcher, err := kern.SetSize([]int{2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	x := []int32{4, 5}
	future, err := launcher.Launch(x)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{8, 10}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
}

const scaleFunc = `
type Params struct {
	Factor float64
}

func main(p *Params, x []float32) {
	i := GlobalID(0)
	x[i] = x[i] * float32(p.Factor)
}
`

func TestCreateKernelFunc(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(item emulator.WorkItem, args [][]byte) {
		if len(args[0]) != kernel.TranslatorSlots[0].Size || len(args[1]) != kernel.TranslatorSlots[1].Size {
			return
		}
		// Arguments follow the stack buffers.
		scale(item, args[2:])
	}))
	rtm := gpgputesting.NewRuntime(t, drv)
	kern, err := rtm.CreateKernelFunc(scaleFunc, []string{"read", "readwrite"})
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	if diff := cmp.Diff([]string{"Object", "Float32Array"}, schemaTypes(kern.Kernel().Schema())); diff != "" {
		t.Errorf("unexpected argument types: (-want,+got):\n%s", diff)
	}
	launcher, err := kern.SetSize([]int{4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	x := []float32{1, 2, 3, 4}
	future, err := launcher.Launch(params{Factor: 3}, x)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{3, 6, 9, 12}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	gpgputesting.CheckBufferCount(t, rtm.Session(), drv)
}

func TestCreateKernelFuncError(t *testing.T) {
	drv := emulator.New()
	rtm := gpgputesting.NewRuntime(t, drv)
	_, err := rtm.CreateKernelFunc("func main(x []float32) {\n\tx[0] = y\n}", []string{"readwrite"})
	if got := gpgpu.Code(err); got != gpgpu.CodeCompile {
		t.Errorf("got error %v with code %d, want code %d", err, got, gpgpu.CodeCompile)
	}
}

func schemaTypes(schema gpgpu.Schema) []string {
	var types []string
	for i := 0; i < schema.Len(); i++ {
		types = append(types, schema.At(i).Descriptor())
	}
	return types
}
