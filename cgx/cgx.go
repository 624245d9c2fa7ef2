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

// Package cgx provides C access to gpgpu runtimes.
//
// Objects are returned to C as handles. A handle is released with gpgpu_release.
// Messages returned to C are allocated with malloc and must be freed by the caller.
package cgx

import (
	"unsafe"

	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/api"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/plugin"
	"github.com/gx-org/gx/cgx/handle"
)

/*
#include <stdint.h>
#include <stdlib.h>

typedef uintptr_t gpgpu_handle;

// gpgpu_completion is called once the outputs of a launch are in host memory.
// code is 0 on success.
typedef void (*gpgpu_completion)(void* user_data, int code, const char* message);

static inline void gpgpu_call_completion(gpgpu_completion cb, void* user_data, int code, const char* message) {
	cb(user_data, code, message);
}

// gpgpu_result is the return value of functions creating an object.
struct gpgpu_result {
	gpgpu_handle handle;
	int code;
	char* message;
};

// gpgpu_arg is the host memory of a kernel argument.
struct gpgpu_arg {
	void* data;
	size_t size;
};
*/
import "C"

func result(h handle.Handle, err error) C.struct_gpgpu_result {
	if err != nil {
		return C.struct_gpgpu_result{
			code:    C.int(gpgpu.Code(err)),
			message: C.CString(err.Error()),
		}
	}
	return C.struct_gpgpu_result{handle: C.gpgpu_handle(h)}
}

func goStrings(cstrs **C.char, n C.int) []string {
	if n <= 0 {
		return nil
	}
	strs := make([]string, int(n))
	for i, cstr := range unsafe.Slice(cstrs, int(n)) {
		strs[i] = C.GoString(cstr)
	}
	return strs
}

func goInts(cints *C.int64_t, n C.int) []int {
	if cints == nil {
		return nil
	}
	ints := make([]int, int(n))
	for i, v := range unsafe.Slice(cints, int(n)) {
		ints[i] = int(v)
	}
	return ints
}

func newRuntime(driverName, className string) (handle.Handle, error) {
	class, err := driver.ParseDeviceClass(className)
	if err != nil {
		return 0, err
	}
	rtm, err := plugin.New(driverName, class)
	if err != nil {
		return 0, err
	}
	return handle.Wrap[*api.Runtime](rtm), nil
}

//export gpgpu_runtime_new
func gpgpu_runtime_new(cDriver *C.char, cClass *C.char) C.struct_gpgpu_result {
	return result(newRuntime(C.GoString(cDriver), C.GoString(cClass)))
}

func closeRuntime(h handle.Handle) error {
	return handle.Unwrap[*api.Runtime](h).Close()
}

// gpgpu_runtime_close waits for all launches to complete and releases the device.
// The handle still needs to be released.
//
//export gpgpu_runtime_close
func gpgpu_runtime_close(h C.gpgpu_handle) *C.char {
	if err := closeRuntime(handle.Handle(h)); err != nil {
		return C.CString(err.Error())
	}
	return nil
}

func createKernel(h handle.Handle, source string, types, access []string) (handle.Handle, error) {
	kern, err := handle.Unwrap[*api.Runtime](h).CreateKernel(source, types, access)
	if err != nil {
		return 0, err
	}
	return handle.Wrap[*api.Kernel](kern), nil
}

//export gpgpu_create_kernel
func gpgpu_create_kernel(h C.gpgpu_handle, cSource *C.char, cTypes **C.char, cAccess **C.char, numArgs C.int) C.struct_gpgpu_result {
	return result(createKernel(handle.Handle(h), C.GoString(cSource), goStrings(cTypes, numArgs), goStrings(cAccess, numArgs)))
}

func setSize(h handle.Handle, global, local []int) (handle.Handle, error) {
	launcher, err := handle.Unwrap[*api.Kernel](h).SetSize(global, local)
	if err != nil {
		return 0, err
	}
	return handle.Wrap[*api.Launcher](launcher), nil
}

// gpgpu_set_size returns a launcher. local can be NULL.
//
//export gpgpu_set_size
func gpgpu_set_size(h C.gpgpu_handle, global *C.int64_t, local *C.int64_t, dims C.int) C.struct_gpgpu_result {
	return result(setSize(handle.Handle(h), goInts(global, dims), goInts(local, dims)))
}

// launch launches a kernel given the host memory of its arguments.
// done is called on the runtime loop once the outputs are in host memory.
func launch(h handle.Handle, data [][]byte, done func(code int, msg string)) error {
	launcher := handle.Unwrap[*api.Launcher](h)
	schema := launcher.Kernel().Kernel().Schema()
	args := make([]any, len(data))
	for i, d := range data {
		arr := gpgpu.Array{Data: d}
		if i < schema.Len() {
			arr.DType = schema.At(i).DType
		}
		args[i] = arr
	}
	future, err := launcher.Launch(args...)
	if err != nil {
		return err
	}
	future.Then(func(_ bool, err error) {
		var msg string
		if err != nil {
			msg = err.Error()
		}
		done(gpgpu.Code(err), msg)
	})
	return nil
}

// gpgpu_launch launches a kernel. The memory of the arguments must stay valid
// and must not be accessed until cb is called.
// cb is called from a runtime thread. The message given to cb is freed once cb returns.
//
//export gpgpu_launch
func gpgpu_launch(h C.gpgpu_handle, cArgs *C.struct_gpgpu_arg, numArgs C.int, cb C.gpgpu_completion, userData unsafe.Pointer) C.struct_gpgpu_result {
	var data [][]byte
	if numArgs > 0 {
		data = make([][]byte, int(numArgs))
		for i, cArg := range unsafe.Slice(cArgs, int(numArgs)) {
			data[i] = unsafe.Slice((*byte)(cArg.data), int(cArg.size))
		}
	}
	err := launch(handle.Handle(h), data, func(code int, msg string) {
		if cb == nil {
			return
		}
		var cMsg *C.char
		if msg != "" {
			cMsg = C.CString(msg)
			defer C.free(unsafe.Pointer(cMsg))
		}
		C.gpgpu_call_completion(cb, userData, C.int(code), cMsg)
	})
	return result(0, err)
}

//export gpgpu_release
func gpgpu_release(h C.gpgpu_handle) {
	handle.Release(handle.Handle(h))
}

// gpgpu_handle_count returns the number of outstanding handles.
//
// For testing only.
//
//export gpgpu_handle_count
func gpgpu_handle_count() C.int64_t {
	return C.int64_t(handle.Count())
}
