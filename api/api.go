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

// Package api is the host-facing API of the runtime.
//
// Kernels are created from source with string descriptors of their arguments:
//
//	rtm, err := api.New(drv, driver.ClassGPU)
//	kern, err := rtm.CreateKernel(source, []string{"Float32Array"}, []string{"readwrite"})
//	launcher, err := kern.SetSize([]int{len(x)}, nil)
//	future, err := launcher.Launch(x)
//
// CreateKernelFunc creates kernels from Go functions, see package translate.
package api

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/kernel"
	"github.com/gx-org/gpgpu/backend/platform"
	"github.com/gx-org/gpgpu/host"
	"github.com/gx-org/gpgpu/serialize"
	"github.com/gx-org/gpgpu/translate"
)

type (
	// Option configures a runtime.
	Option func(*options)

	options struct {
		session []platform.Option
		kernel  []kernel.Option
	}
)

// WithLogger sets the logger of the runtime and of its kernels.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.session = append(o.session, platform.WithLogger(log))
	}
}

// WithLoop sets the loop on which launch completions are delivered.
func WithLoop(loop *host.Loop) Option {
	return func(o *options) {
		o.session = append(o.session, platform.WithLoop(loop))
	}
}

// WithKernelOptions sets options applied to every kernel created by the runtime.
func WithKernelOptions(opts ...kernel.Option) Option {
	return func(o *options) {
		o.kernel = append(o.kernel, opts...)
	}
}

// Runtime creates kernels on a device.
type Runtime struct {
	sess    *platform.Session
	kernOpt []kernel.Option
}

// New returns a runtime on the first device of a class.
func New(drv driver.Driver, class driver.DeviceClass, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sess, err := platform.New(drv, class, o.session...)
	if err != nil {
		return nil, err
	}
	return &Runtime{sess: sess, kernOpt: o.kernel}, nil
}

// Session returns the device session of the runtime.
func (rtm *Runtime) Session() *platform.Session {
	return rtm.sess
}

// Loop on which launch completions are delivered.
func (rtm *Runtime) Loop() *host.Loop {
	return rtm.sess.Loop()
}

// CreateKernel compiles a kernel given its source and the descriptors of its arguments.
// gpgpu.Code returns gpgpu.CodeCompile for the error of a failed build.
func (rtm *Runtime) CreateKernel(source string, types, access []string, opts ...kernel.Option) (*Kernel, error) {
	schema, err := gpgpu.ParseSchema(types, access)
	if err != nil {
		return nil, err
	}
	kern, err := kernel.Compile(rtm.sess, source, schema, append(append([]kernel.Option{}, rtm.kernOpt...), opts...)...)
	if err != nil {
		return nil, err
	}
	return &Kernel{kernel: kern}, nil
}

// CreateKernelFunc translates a kernel written as a Go function into OpenCL C and compiles it.
// access lists the access mode of each parameter of the Go function.
func (rtm *Runtime) CreateKernelFunc(src string, access []string, opts ...translate.Option) (*Kernel, error) {
	tr, err := translate.Func(src, opts...)
	if err != nil {
		return nil, err
	}
	return rtm.CreateKernel(tr.Source, tr.Types, access, kernel.WithReservedSlots(kernel.TranslatorSlots...))
}

// Close waits for all launches to complete and releases the device session.
func (rtm *Runtime) Close() error {
	return rtm.sess.Close()
}

// Kernel is a compiled kernel.
type Kernel struct {
	kernel *kernel.Kernel
}

// Kernel returns the compiled kernel.
func (k *Kernel) Kernel() *kernel.Kernel {
	return k.kernel
}

// SetSize sets the global and local work sizes of the kernel.
// A nil local sets a local work size of 1 in every dimension.
func (k *Kernel) SetSize(global, local []int) (*Launcher, error) {
	l, err := k.kernel.Configure(global, local)
	if err != nil {
		return nil, err
	}
	return &Launcher{kernel: k, launcher: l}, nil
}

// Release the kernel.
func (k *Kernel) Release() error {
	return k.kernel.Release()
}

// Launcher launches a kernel.
type Launcher struct {
	kernel   *Kernel
	launcher *kernel.Launcher
}

// Kernel returns the kernel launched by the launcher.
func (l *Launcher) Kernel() *Kernel {
	return l.kernel
}

// Geometry returns the global and local work sizes of the launches.
func (l *Launcher) Geometry() kernel.Geometry {
	return l.launcher.Geometry()
}

// Launch launches the kernel with the given arguments.
//
// Object and Object[] arguments given as bytes are passed as is.
// Other values are serialized, in which case the data read back from the
// device is not written back into the value.
func (l *Launcher) Launch(args ...any) (*host.Future[bool], error) {
	schema := l.launcher.Kernel().Schema()
	if len(args) == schema.Len() {
		args = append([]any{}, args...)
		for i, arg := range args {
			encoded, err := encodeObject(i, schema.At(i), arg)
			if err != nil {
				return nil, err
			}
			args[i] = encoded
		}
	}
	return l.launcher.Launch(args...)
}

func isBytes(v any) bool {
	switch vT := v.(type) {
	case []byte:
		return true
	case gpgpu.Array:
		return vT.DType.Size() == 1
	case *gpgpu.Array:
		return vT != nil && vT.DType.Size() == 1
	}
	return false
}

func encodeObject(i int, arg gpgpu.Arg, v any) (any, error) {
	if isBytes(v) {
		return v, nil
	}
	var data []byte
	var err error
	switch arg.Type {
	case gpgpu.OpaqueBuffer:
		data, _, err = serialize.Marshal(v)
	case gpgpu.OpaqueBufferArray:
		data, _, err = serialize.MarshalSlice(v)
	default:
		return v, nil
	}
	if err != nil {
		return nil, &gpgpu.ArgumentError{Index: i, Msg: errors.Wrap(err, "cannot serialize object").Error()}
	}
	return data, nil
}
