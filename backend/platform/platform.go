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

// Package platform provides the device session on which kernels run.
package platform

import (
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
)

// Select returns the first platform of a driver and its first device of a given class.
func Select(drv driver.Driver, class driver.DeviceClass) (driver.Platform, driver.Device, error) {
	plats, err := drv.Platforms()
	if err != nil {
		if driver.StatusOf(err) == driver.PlatformNotFound {
			return nil, nil, &gpgpu.SetupError{Msg: "No valid ICDs found", Err: err}
		}
		return nil, nil, &gpgpu.SetupError{Msg: "cannot list compute platforms", Err: err}
	}
	if len(plats) == 0 {
		return nil, nil, &gpgpu.SetupError{Msg: "no compute platform available"}
	}
	plat := plats[0]
	devs, err := plat.Devices(class)
	if err != nil {
		return nil, nil, &gpgpu.SetupError{Msg: "no " + class.String() + " device on platform " + plat.Name(), Err: err}
	}
	if len(devs) == 0 {
		return nil, nil, &gpgpu.SetupError{Msg: "no " + class.String() + " device on platform " + plat.Name()}
	}
	return plat, devs[0], nil
}

// Describe lists the platforms of a driver and all their devices.
func Describe(drv driver.Driver) (map[string][]driver.Device, error) {
	plats, err := drv.Platforms()
	if err != nil {
		return nil, err
	}
	result := make(map[string][]driver.Device, len(plats))
	for _, plat := range plats {
		devs, err := plat.Devices(driver.ClassAll)
		if err != nil && driver.StatusOf(err) != driver.DeviceNotFound {
			return nil, err
		}
		result[plat.Name()] = devs
	}
	return result, nil
}
