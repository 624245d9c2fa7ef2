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

	"github.com/pkg/errors"
)

// Numeric error codes returned to hosts that only understand numbers.
const (
	CodeOK       = 0
	CodeCompile  = 1
	CodeArgument = 2
	CodeDevice   = 3
	CodeSetup    = 4
	CodeUnknown  = -1
)

type (
	// SetupError is returned when no compute platform or device can be used.
	SetupError struct {
		Msg string
		Err error
	}

	// CompileError is returned when a kernel source fails to build.
	CompileError struct {
		// Log is the build log produced by the device compiler.
		Log string
		Err error
	}

	// ArgumentError is returned when arguments do not match a kernel schema.
	ArgumentError struct {
		// Index of the argument, -1 if the error is not about a specific argument.
		Index int
		Msg   string
	}

	// DeviceError is returned when an operation on the device fails.
	DeviceError struct {
		Op  string
		Err error
	}
)

func (e *SetupError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error { return e.Err }

func (e *CompileError) Error() string {
	msg := "cannot build kernel"
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if log := strings.TrimRight(e.Log, "\n"); log != "" && !strings.Contains(msg, log) {
		msg += "\n" + log
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error { return e.Err }

func (e *ArgumentError) Error() string {
	if e.Index < 0 {
		return e.Msg
	}
	return fmt.Sprintf("argument %d: %s", e.Index, e.Msg)
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Code returns the numeric code of an error.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	var (
		compileErr *CompileError
		argErr     *ArgumentError
		deviceErr  *DeviceError
		setupErr   *SetupError
	)
	switch {
	case errors.As(err, &compileErr):
		return CodeCompile
	case errors.As(err, &argErr):
		return CodeArgument
	case errors.As(err, &setupErr):
		return CodeSetup
	case errors.As(err, &deviceErr):
		return CodeDevice
	}
	return CodeUnknown
}
