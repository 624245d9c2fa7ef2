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

// Package plugin creates runtimes from the name of a device driver.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gx-org/gpgpu/api"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	"github.com/gx-org/gpgpu/backend/driver/opencl"
)

// Factory creates a driver.
type Factory func() (driver.Driver, error)

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

func init() {
	Register(opencl.Name, opencl.New)
	Register(emulator.Name, func() (driver.Driver, error) {
		return emulator.New(), nil
	})
}

// Register a driver factory given a name.
// A factory registered with the same name is replaced.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Names returns the sorted names of all registered drivers.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Driver returns a new driver given its name.
func Driver(name string) (driver.Driver, error) {
	mu.Lock()
	factory, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("driver %q not registered: available drivers are %v", name, Names())
	}
	drv, err := factory()
	if err != nil {
		return nil, fmt.Errorf("cannot load driver %q: %v", name, err)
	}
	return drv, nil
}

// New returns a new runtime given a driver name and a device class.
func New(name string, class driver.DeviceClass, opts ...api.Option) (*api.Runtime, error) {
	drv, err := Driver(name)
	if err != nil {
		return nil, err
	}
	return NewWithDriver(drv, class, opts...)
}

// NewWithDriver creates a runtime given a driver and a device class.
func NewWithDriver(drv driver.Driver, class driver.DeviceClass, opts ...api.Option) (*api.Runtime, error) {
	return api.New(drv, class, opts...)
}
