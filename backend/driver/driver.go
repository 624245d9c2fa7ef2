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

// Package driver defines the device API used by the platform and kernel packages.
//
// The interfaces mirror the OpenCL object model: platforms own devices,
// a context is created for a device, and a context creates command queues,
// programs and buffers. Commands enqueued on a queue execute in order.
package driver

type (
	// Driver gives access to the compute platforms installed on the host.
	Driver interface {
		// Name of the driver.
		Name() string
		// Platforms installed on the host.
		Platforms() ([]Platform, error)
	}

	// Platform groups devices of one vendor implementation.
	Platform interface {
		// Name of the platform.
		Name() string
		// Devices returns the devices of the platform matching a class.
		Devices(class DeviceClass) ([]Device, error)
	}

	// Device is a compute device.
	Device interface {
		// Name of the device.
		Name() string
		// Class of the device.
		Class() DeviceClass
		// NewContext creates a context for the device.
		NewContext() (Context, error)
	}

	// Context owns the objects created for a device.
	Context interface {
		// NewQueue creates an in-order command queue.
		NewQueue() (Queue, error)
		// NewProgram creates a program from source. The program still needs to be built.
		NewProgram(source string) (Program, error)
		// NewBuffer allocates a device buffer of size bytes.
		NewBuffer(size int) (Buffer, error)
		// Release the context.
		Release() error
	}

	// Program is a device program created from source.
	Program interface {
		// Build the program for the device of the context with no options.
		// A failure returns a *BuildError.
		Build() error
		// Kernel returns the kernel entry point of a built program.
		Kernel(name string) (Kernel, error)
		// Release the program.
		Release() error
	}

	// Kernel is an entry point of a program.
	Kernel interface {
		// Name of the kernel.
		Name() string
		// SetArg binds a buffer to an argument slot.
		SetArg(index int, buf Buffer) error
		// Release the kernel.
		Release() error
	}

	// Buffer is a device memory allocation.
	Buffer interface {
		// Size of the buffer in bytes.
		Size() int
		// Release the buffer.
		Release() error
	}

	// Event signals the completion of an enqueued command.
	Event interface {
		// Wait blocks until the command completes.
		// It returns an error if the command failed.
		Wait() error
		// Release the event.
		Release() error
	}

	// Queue is an in-order command queue.
	Queue interface {
		// Write copies host data into a buffer. Write blocks until the copy completes.
		Write(buf Buffer, data []byte) error
		// Launch enqueues a N-dimensional kernel execution.
		Launch(k Kernel, global, local []int) (Event, error)
		// Read enqueues a copy of a buffer into host memory once all events in waitFor completed.
		// Read does not block: dst must not be accessed before the returned event completes.
		Read(buf Buffer, dst []byte, waitFor []Event) (Event, error)
		// Flush submits all enqueued commands to the device.
		Flush() error
		// Finish blocks until all enqueued commands completed.
		Finish() error
		// Release the queue.
		Release() error
	}
)
