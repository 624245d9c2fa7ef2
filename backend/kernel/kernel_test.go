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

package kernel_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	"github.com/gx-org/gpgpu/backend/kernel"
	"github.com/gx-org/gpgpu/backend/platform"
	gpgputesting "github.com/gx-org/gpgpu/testing"
)

const addSource = `
// b = a + b
__kernel void kernelFunc(__global const float* a, __global float* b) {
	int i = get_global_id(0);
	b[i] += a[i];
}
`

func add(item emulator.WorkItem, args [][]byte) {
	a, b := emulator.Float32s(args[0]), emulator.Float32s(args[1])
	i := item.Linear()
	b[i] += a[i]
}

var addSchema = gpgpu.NewSchema(
	gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Float32, Access: gpgpu.Read},
	gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Float32, Access: gpgpu.ReadWrite},
)

func newAdd(t *testing.T, drv *emulator.Driver, opts ...kernel.Option) (*platform.Session, *kernel.Kernel) {
	t.Helper()
	sess := gpgputesting.NewSession(t, drv)
	kern, err := kernel.Compile(sess, addSource, addSchema, opts...)
	if err != nil {
		t.Fatalf("cannot compile kernel: %v", err)
	}
	t.Cleanup(func() { kern.Release() })
	return sess, kern
}

func launch(t *testing.T, kern *kernel.Kernel, global, local []int, args ...any) error {
	t.Helper()
	launcher, err := kern.Configure(global, local)
	if err != nil {
		t.Fatal(err)
	}
	future, err := launcher.Launch(args...)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := gpgputesting.Await(t, future)
	if err == nil && !ok {
		t.Errorf("launch resolved with false and no error")
	}
	return err
}

func TestLaunch(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	a := []float32{1, 2, 3}
	b := []float32{10, 20, 30}
	if err := launch(t, kern, []int{len(a)}, nil, a, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3}, a); diff != "" {
		t.Errorf("read argument modified: (-want,+got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{11, 22, 33}, b); diff != "" {
		t.Errorf("incorrect readwrite argument: (-want,+got):\n%s", diff)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestIdentity(t *testing.T) {
	const src = `__kernel void kernelFunc(__global float* x) {}`
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(emulator.WorkItem, [][]byte) {}))
	sess := gpgputesting.NewSession(t, drv)
	schema, err := gpgpu.ParseSchema([]string{"Float32Array"}, []string{"readwrite"})
	if err != nil {
		t.Fatal(err)
	}
	kern, err := kernel.Compile(sess, src, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	x := []float32{4, 5, 6, 7}
	if err := launch(t, kern, []int{len(x)}, nil, x); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{4, 5, 6, 7}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestWriteOnly(t *testing.T) {
	const src = `__kernel void kernelFunc(__global uint* x) { x[get_global_id(0)] = 2 * get_global_id(0); }`
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(item emulator.WorkItem, args [][]byte) {
		x := emulator.Uint32s(args[0])
		x[item.Linear()] = uint32(2 * item.Linear())
	}))
	sess := gpgputesting.NewSession(t, drv)
	schema := gpgpu.NewSchema(gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Uint32, Access: gpgpu.Write})
	kern, err := kernel.Compile(sess, src, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	x := []uint32{9, 9, 9, 9, 9}
	if err := launch(t, kern, []int{len(x)}, nil, x); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0, 2, 4, 6, 8}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	for _, cmd := range drv.History() {
		if cmd.Op == emulator.OpWrite {
			t.Errorf("write-only argument uploaded to the device")
		}
	}
}

func TestIota(t *testing.T) {
	const (
		src = `__kernel void kernelFunc(__global float* input) { int i = get_global_id(0); input[i] = i; }`
		n   = 1024
	)
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(item emulator.WorkItem, args [][]byte) {
		input := emulator.Float32s(args[0])
		input[item.GlobalID[0]] = float32(item.GlobalID[0])
	}))
	sess := gpgputesting.NewSession(t, drv)
	schema, err := gpgpu.ParseSchema([]string{"Float32Array"}, []string{"readwrite"})
	if err != nil {
		t.Fatal(err)
	}
	kern, err := kernel.Compile(sess, src, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	want := make([]float32, n)
	for i := range want {
		want[i] = float32(i)
	}
	tests := []struct {
		name  string
		local []int
	}{
		{name: "implicit", local: nil},
		{name: "explicit", local: []int{1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			input := make([]float32, n)
			if err := launch(t, kern, []int{n}, test.local, input); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, input); diff != "" {
				t.Errorf("unexpected values: (-want,+got):\n%s", diff)
			}
		})
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestArityFailsBeforeAllocation(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = launcher.Launch([]float32{1, 2, 3})
	var argErr *gpgpu.ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("got error %v, want an argument error", err)
	}
	if argErr.Index != -1 {
		t.Errorf("got argument index %d, want -1", argErr.Index)
	}
	if got := gpgpu.Code(err); got != gpgpu.CodeArgument {
		t.Errorf("got code %d, want %d", got, gpgpu.CodeArgument)
	}
	if history := drv.History(); len(history) != 0 {
		t.Errorf("commands executed on the device: %v", history)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestBadArguments(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		args  []any
		index int
	}{
		{"wrong element type", []any{[]float64{1, 2, 3}, []float32{1, 2, 3}}, 0},
		{"not an array", []any{[]float32{1, 2, 3}, "abc"}, 1},
		{"empty array", []any{[]float32{}, []float32{1, 2, 3}}, 0},
		{"bytes for a numeric array", []any{[]float32{1, 2, 3}, []byte{1, 2}}, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := launcher.Launch(test.args...)
			var argErr *gpgpu.ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("got error %v, want an argument error", err)
			}
			if argErr.Index != test.index {
				t.Errorf("got argument index %d, want %d", argErr.Index, test.index)
			}
		})
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestCompileError(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess := gpgputesting.NewSession(t, drv)
	src := strings.Replace(addSource, "}", "", 1)
	kern, err := kernel.Compile(sess, src, addSchema)
	if kern != nil {
		t.Errorf("got a kernel for a program which does not build")
	}
	var compileErr *gpgpu.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("got error %v, want a compile error", err)
	}
	if !strings.Contains(compileErr.Log, "error") {
		t.Errorf("build log %q does not report an error", compileErr.Log)
	}
	if got := gpgpu.Code(err); got != gpgpu.CodeCompile {
		t.Errorf("got code %d, want %d", got, gpgpu.CodeCompile)
	}
}

func TestMissingEntryPoint(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess := gpgputesting.NewSession(t, drv)
	_, err := kernel.Compile(sess, addSource, addSchema, kernel.WithEntryPoint("main"))
	if gpgpu.Code(err) != gpgpu.CodeCompile {
		t.Errorf("got error %v, want a compile error", err)
	}
	if driver.StatusOf(err) != driver.InvalidKernelName {
		t.Errorf("got status %s, want %s", driver.StatusOf(err), driver.InvalidKernelName)
	}
}

func TestEntryPoint(t *testing.T) {
	const src = `__kernel void scale(__global double* x) { x[get_global_id(0)] *= 2; }`
	drv := emulator.New(emulator.WithKernel("scale", func(item emulator.WorkItem, args [][]byte) {
		emulator.Float64s(args[0])[item.Linear()] *= 2
	}))
	sess := gpgputesting.NewSession(t, drv)
	schema := gpgpu.NewSchema(gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Float64, Access: gpgpu.ReadWrite})
	kern, err := kernel.Compile(sess, src, schema, kernel.WithEntryPoint("scale"))
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	x := []float64{1, 2}
	if err := launch(t, kern, []int{2}, nil, x); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{2, 4}, x); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
}

func TestDefaultLocalSize(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	_, kern := newAdd(t, drv)
	implicit, err := kern.Configure([]int{4, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 1}, implicit.Geometry().Local()); diff != "" {
		t.Errorf("unexpected local size: (-want,+got):\n%s", diff)
	}
	a := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	bImplicit := make([]float32, len(a))
	bExplicit := make([]float32, len(a))
	if err := launch(t, kern, []int{4, 2}, nil, a, bImplicit); err != nil {
		t.Fatal(err)
	}
	if err := launch(t, kern, []int{4, 2}, []int{1, 1}, a, bExplicit); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(bExplicit, bImplicit); diff != "" {
		t.Errorf("default local size differs from explicit ones: (-explicit,+implicit):\n%s", diff)
	}
	if diff := cmp.Diff(a, bImplicit); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
}

func TestConfigure(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	_, kern := newAdd(t, drv)
	tests := []struct {
		global, local []int
		err           bool
	}{
		{global: []int{8}},
		{global: []int{8, 4, 2}, local: []int{2, 2, 2}},
		{global: nil, err: true},
		{global: []int{1, 1, 1, 1}, err: true},
		{global: []int{0}, err: true},
		{global: []int{8}, local: []int{-1}, err: true},
		{global: []int{8, 8}, local: []int{8}, err: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v:%v", test.global, test.local), func(t *testing.T) {
			launcher, err := kern.Configure(test.global, test.local)
			if test.err {
				if err == nil {
					t.Errorf("got launcher with geometry %s, want an error", launcher.Geometry())
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.global, launcher.Geometry().Global()); diff != "" {
				t.Errorf("unexpected global size: (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestInvalidWorkGroupSize(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{3}, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	future, err := launcher.Launch([]float32{1, 2, 3}, []float32{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	_, err = gpgputesting.Await(t, future)
	if driver.StatusOf(err) != driver.InvalidWorkGroupSize {
		t.Errorf("got error %v, want status %s", err, driver.InvalidWorkGroupSize)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestConcurrentLaunches(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	const numLaunches = 8
	var wg sync.WaitGroup
	errs := make([]error, numLaunches)
	results := make([][]float32, numLaunches)
	for n := 0; n < numLaunches; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := make([]float32, 16)
			b := make([]float32, 16)
			for i := range a {
				a[i] = float32(n)
				b[i] = float32(i)
			}
			future, err := launcher.Launch(a, b)
			if err != nil {
				errs[n] = err
				return
			}
			_, errs[n] = gpgputesting.Await(t, future)
			results[n] = b
		}()
	}
	wg.Wait()
	for n := 0; n < numLaunches; n++ {
		if errs[n] != nil {
			t.Errorf("launch %d: %v", n, errs[n])
			continue
		}
		want := make([]float32, 16)
		for i := range want {
			want[i] = float32(n + i)
		}
		if diff := cmp.Diff(want, results[n]); diff != "" {
			t.Errorf("launch %d: unexpected values: (-want,+got):\n%s", n, diff)
		}
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestExecutionFailureRejects(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	drv.FailNext(emulator.OpExecute, driver.OutOfResources)
	b := []float32{10, 20}
	err := launch(t, kern, []int{2}, nil, []float32{1, 2}, b)
	var devErr *gpgpu.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("got error %v, want a device error", err)
	}
	if driver.StatusOf(err) != driver.OutOfResources {
		t.Errorf("got status %s, want %s", driver.StatusOf(err), driver.OutOfResources)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
	// The kernel can be launched again.
	if err := launch(t, kern, []int{2}, nil, []float32{1, 2}, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{11, 22}, b); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
}

func TestEnqueueFailureRejects(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	drv.FailNext(emulator.OpLaunch, driver.OutOfHostMemory)
	future, err := launcher.Launch([]float32{1, 2}, []float32{3, 4})
	if err != nil {
		t.Fatalf("got error %v, want a future", err)
	}
	_, err = gpgputesting.Await(t, future)
	if gpgpu.Code(err) != gpgpu.CodeDevice {
		t.Errorf("got error %v, want a device error", err)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestReadbackFailureRejects(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	drv.FailNext(emulator.OpRead, driver.MemObjectAllocationFailure)
	err := launch(t, kern, []int{2}, nil, []float32{1, 2}, []float32{3, 4})
	if driver.StatusOf(err) != driver.MemObjectAllocationFailure {
		t.Errorf("got error %v, want status %s", err, driver.MemObjectAllocationFailure)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestSynchronousFailureReleasesBuffers(t *testing.T) {
	tests := []struct {
		op     emulator.Op
		status driver.Status
	}{
		{emulator.OpBuffer, driver.MemObjectAllocationFailure},
		{emulator.OpWrite, driver.OutOfResources},
		{emulator.OpSetArg, driver.InvalidArgValue},
	}
	for _, test := range tests {
		t.Run(string(test.op), func(t *testing.T) {
			drv := emulator.New(emulator.WithKernel("kernelFunc", add))
			sess, kern := newAdd(t, drv)
			launcher, err := kern.Configure([]int{2}, nil)
			if err != nil {
				t.Fatal(err)
			}
			drv.FailNext(test.op, test.status)
			future, err := launcher.Launch([]float32{1, 2}, []float32{3, 4})
			if future != nil {
				t.Errorf("got a future for a failed launch")
			}
			if driver.StatusOf(err) != test.status {
				t.Errorf("got error %v, want status %s", err, test.status)
			}
			gpgputesting.CheckBufferCount(t, sess, drv)
		})
	}
}

func TestWaitQueue(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv, kernel.WithWaitMode(kernel.WaitQueue))
	a := []float32{1, 2, 3}
	b := []float32{1, 1, 1}
	if err := launch(t, kern, []int{3}, nil, a, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{2, 3, 4}, b); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	finishes := 0
	for _, cmd := range drv.History() {
		if cmd.Op == emulator.OpFinish {
			finishes++
		}
	}
	if finishes < 2 {
		t.Errorf("got %d queue barriers, want at least 2", finishes)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestStates(t *testing.T) {
	var mu sync.Mutex
	var states []kernel.State
	observe := func(s kernel.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	_, kern := newAdd(t, drv, kernel.WithStateObserver(observe))
	if err := launch(t, kern, []int{1}, nil, []float32{1}, []float32{2}); err != nil {
		t.Fatal(err)
	}
	want := []kernel.State{
		kernel.Armed,
		kernel.AwaitingCompute,
		kernel.ReadbackEnqueued,
		kernel.AwaitingReadback,
		kernel.Resolved,
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("unexpected state transitions: (-want,+got):\n%s", diff)
	}
}

func TestReservedSlots(t *testing.T) {
	const src = `__kernel void kernelFunc(__global int* stack, __global long* stackSize, __global const float* a, __global float* b) {}`
	var mu sync.Mutex
	var sizes []int
	drv := emulator.New(emulator.WithKernel("kernelFunc", func(item emulator.WorkItem, args [][]byte) {
		mu.Lock()
		sizes = []int{len(args[0]), len(args[1])}
		mu.Unlock()
		add(item, args[2:])
	}))
	sess := gpgputesting.NewSession(t, drv)
	kern, err := kernel.Compile(sess, src, addSchema, kernel.WithReservedSlots(kernel.TranslatorSlots...))
	if err != nil {
		t.Fatal(err)
	}
	defer kern.Release()
	b := []float32{1, 1}
	if err := launch(t, kern, []int{2}, nil, []float32{1, 2}, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{2, 3}, b); diff != "" {
		t.Errorf("unexpected values: (-want,+got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{4, 8}, sizes); diff != "" {
		t.Errorf("unexpected reserved slot sizes: (-want,+got):\n%s", diff)
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}

func TestThenRunsOnLoop(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	_, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := []float32{5}
	future, err := launcher.Launch([]float32{1}, b)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan float32, 1)
	future.Then(func(ok bool, err error) {
		if err != nil || !ok {
			t.Errorf("launch failed: %v", err)
		}
		got <- b[0]
	})
	if _, err := gpgputesting.Await(t, future); err != nil {
		t.Fatal(err)
	}
	if v := <-got; v != 6 {
		t.Errorf("callback got %v, want 6", v)
	}
}

func TestLaunchAfterClose(t *testing.T) {
	drv := emulator.New(emulator.WithKernel("kernelFunc", add))
	sess, kern := newAdd(t, drv)
	launcher, err := kern.Configure([]int{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := launcher.Launch([]float32{1}, []float32{2}); err == nil {
		t.Errorf("got no error when launching a kernel on a closed session")
	}
	gpgputesting.CheckBufferCount(t, sess, drv)
}
