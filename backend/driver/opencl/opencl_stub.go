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

//go:build !opencl

// Package opencl provides an OpenCL device driver.
//
// Build with the opencl tag and an OpenCL ICD loader installed.
package opencl

import (
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu/backend/driver"
)

// Name of the driver.
const Name = "opencl"

// Available is true when the package has been built with OpenCL support.
const Available = false

// ErrUnavailable is returned when the package has been built without the opencl tag.
var ErrUnavailable = errors.New("OpenCL support not compiled in: build with -tags opencl")

// New returns an error: OpenCL support has not been compiled in.
func New() (driver.Driver, error) {
	return nil, ErrUnavailable
}
