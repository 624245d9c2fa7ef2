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

package driver

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Status is a status code returned by a device API.
// Values follow OpenCL.
type Status int

// Status codes.
const (
	Success                    Status = 0
	DeviceNotFound             Status = -1
	DeviceNotAvailable         Status = -2
	CompilerNotAvailable       Status = -3
	MemObjectAllocationFailure Status = -4
	OutOfResources             Status = -5
	OutOfHostMemory            Status = -6
	MemCopyOverlap             Status = -8
	BuildProgramFailure        Status = -11
	MapFailure                 Status = -12

	// ExecStatusErrorForEventsInWaitList is returned when an event waited on failed.
	ExecStatusErrorForEventsInWaitList Status = -14

	InvalidValue               Status = -30
	InvalidDeviceType          Status = -31
	InvalidPlatform            Status = -32
	InvalidDevice              Status = -33
	InvalidContext             Status = -34
	InvalidQueueProperties     Status = -35
	InvalidCommandQueue        Status = -36
	InvalidHostPtr             Status = -37
	InvalidMemObject           Status = -38
	InvalidBinary              Status = -42
	InvalidBuildOptions        Status = -43
	InvalidProgram             Status = -44
	InvalidProgramExecutable   Status = -45
	InvalidKernelName          Status = -46
	InvalidKernelDefinition    Status = -47
	InvalidKernel              Status = -48
	InvalidArgIndex            Status = -49
	InvalidArgValue            Status = -50
	InvalidArgSize             Status = -51
	InvalidKernelArgs          Status = -52
	InvalidWorkDimension       Status = -53
	InvalidWorkGroupSize       Status = -54
	InvalidWorkItemSize        Status = -55
	InvalidGlobalOffset        Status = -56
	InvalidEventWaitList       Status = -57
	InvalidEvent               Status = -58
	InvalidOperation           Status = -59
	InvalidBufferSize          Status = -61
	InvalidGlobalWorkSize      Status = -63
	InvalidProperty            Status = -64
	PlatformNotFound           Status = -1001
)

var statusNames = map[Status]string{
	Success:                    "CL_SUCCESS",
	DeviceNotFound:             "CL_DEVICE_NOT_FOUND",
	DeviceNotAvailable:         "CL_DEVICE_NOT_AVAILABLE",
	CompilerNotAvailable:       "CL_COMPILER_NOT_AVAILABLE",
	MemObjectAllocationFailure: "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:             "CL_OUT_OF_RESOURCES",
	OutOfHostMemory:            "CL_OUT_OF_HOST_MEMORY",
	MemCopyOverlap:             "CL_MEM_COPY_OVERLAP",
	BuildProgramFailure:        "CL_BUILD_PROGRAM_FAILURE",
	MapFailure:                 "CL_MAP_FAILURE",

	ExecStatusErrorForEventsInWaitList: "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",

	InvalidValue:               "CL_INVALID_VALUE",
	InvalidDeviceType:          "CL_INVALID_DEVICE_TYPE",
	InvalidPlatform:            "CL_INVALID_PLATFORM",
	InvalidDevice:              "CL_INVALID_DEVICE",
	InvalidContext:             "CL_INVALID_CONTEXT",
	InvalidQueueProperties:     "CL_INVALID_QUEUE_PROPERTIES",
	InvalidCommandQueue:        "CL_INVALID_COMMAND_QUEUE",
	InvalidHostPtr:             "CL_INVALID_HOST_PTR",
	InvalidMemObject:           "CL_INVALID_MEM_OBJECT",
	InvalidBinary:              "CL_INVALID_BINARY",
	InvalidBuildOptions:        "CL_INVALID_BUILD_OPTIONS",
	InvalidProgram:             "CL_INVALID_PROGRAM",
	InvalidProgramExecutable:   "CL_INVALID_PROGRAM_EXECUTABLE",
	InvalidKernelName:          "CL_INVALID_KERNEL_NAME",
	InvalidKernelDefinition:    "CL_INVALID_KERNEL_DEFINITION",
	InvalidKernel:              "CL_INVALID_KERNEL",
	InvalidArgIndex:            "CL_INVALID_ARG_INDEX",
	InvalidArgValue:            "CL_INVALID_ARG_VALUE",
	InvalidArgSize:             "CL_INVALID_ARG_SIZE",
	InvalidKernelArgs:          "CL_INVALID_KERNEL_ARGS",
	InvalidWorkDimension:       "CL_INVALID_WORK_DIMENSION",
	InvalidWorkGroupSize:       "CL_INVALID_WORK_GROUP_SIZE",
	InvalidWorkItemSize:        "CL_INVALID_WORK_ITEM_SIZE",
	InvalidGlobalOffset:        "CL_INVALID_GLOBAL_OFFSET",
	InvalidEventWaitList:       "CL_INVALID_EVENT_WAIT_LIST",
	InvalidGlobalWorkSize:      "CL_INVALID_GLOBAL_WORK_SIZE",
	InvalidBufferSize:          "CL_INVALID_BUFFER_SIZE",
	InvalidEvent:               "CL_INVALID_EVENT",
	InvalidOperation:           "CL_INVALID_OPERATION",
	InvalidProperty:            "CL_INVALID_PROPERTY",
	PlatformNotFound:           "CL_PLATFORM_NOT_FOUND_KHR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CL_UNKNOWN_ERROR(%d)", int(s))
}

// StatusError is a non-zero status returned by a device API call.
type StatusError struct {
	// Op is the name of the device API call.
	Op     string
	Status Status
	// Err is the error returned by a device library, if any.
	Err error
}

// NewStatusError returns an error given the name of an API call and its status.
func NewStatusError(op string, status Status) *StatusError {
	return &StatusError{Op: op, Status: status}
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s returned %s", e.Op, e.Status)
}

// Unwrap returns the error of the device library.
func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf returns the status of an error returned by a driver.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return BuildProgramFailure
	}
	return OutOfResources
}

// BuildError is returned when a program fails to build.
type BuildError struct {
	Device string
	// Log is the content of the build log.
	Log string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("clBuildProgram returned %s on %s:\n%s", BuildProgramFailure, e.Device, strings.TrimRight(e.Log, "\n"))
}

// DeviceClass selects a class of devices. Values follow the OpenCL device type bits.
type DeviceClass uint64

// Device classes.
const (
	ClassDefault     DeviceClass = 1 << 0
	ClassCPU         DeviceClass = 1 << 1
	ClassGPU         DeviceClass = 1 << 2
	ClassAccelerator DeviceClass = 1 << 3
	ClassAll         DeviceClass = 0xFFFFFFFF
)

var classNames = []struct {
	name  string
	class DeviceClass
}{
	{"default", ClassDefault},
	{"cpu", ClassCPU},
	{"gpu", ClassGPU},
	{"accelerator", ClassAccelerator},
	{"all", ClassAll},
}

// ParseDeviceClass parses the name of a device class.
func ParseDeviceClass(s string) (DeviceClass, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, cn := range classNames {
		if cn.name == s {
			return cn.class, nil
		}
	}
	return 0, errors.Errorf("unknown device class %q", s)
}

// Matches returns true if a device of class other is selected by c.
// The default class matches any device flagged as default.
func (c DeviceClass) Matches(other DeviceClass) bool {
	return c&other != 0
}

func (c DeviceClass) String() string {
	for _, cn := range classNames {
		if cn.class == c {
			return cn.name
		}
	}
	return fmt.Sprintf("DeviceClass(%#x)", uint64(c))
}
